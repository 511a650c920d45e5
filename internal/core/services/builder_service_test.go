package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-chat-exporter/internal/domain"
)

func TestBuild(t *testing.T) {
	b := NewBuilderService(nil)

	t.Run("собранный документ сохраняет порядок топиков", func(t *testing.T) {
		topics := []*domain.Topic{
			{ID: 1, Title: "General", Messages: []*domain.Message{{ID: 10}, {ID: 11}}},
			{ID: 5, Title: "News", Messages: []*domain.Message{{ID: 20}}},
		}

		doc, err := b.Build("Archive · Chat", topics)
		require.NoError(t, err)
		assert.Equal(t, "Archive · Chat", doc.Title)
		require.Len(t, doc.Topics, 2)
		assert.Equal(t, "General", doc.Topics[0].Title)
		assert.Equal(t, 3, doc.TotalMessages())
		assert.Empty(t, doc.EmptyMessage)
	})

	t.Run("дубликат ID сообщения между топиками — ошибка", func(t *testing.T) {
		topics := []*domain.Topic{
			{ID: 1, Messages: []*domain.Message{{ID: 10}}},
			{ID: 5, Messages: []*domain.Message{{ID: 10}}},
		}

		_, err := b.Build("Archive", topics)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate message id 10")
	})

	t.Run("пустой набор топиков дает документ-заглушку", func(t *testing.T) {
		doc, err := b.Build("Archive", nil)
		require.NoError(t, err)
		assert.Nil(t, doc.Topics)
		assert.Equal(t, EmptyExportMessage, doc.EmptyMessage)
		assert.Equal(t, 0, doc.TotalMessages())
	})

	t.Run("топики без сообщений считаются пустым документом", func(t *testing.T) {
		doc, err := b.Build("Archive", []*domain.Topic{{ID: 1, Title: "General"}})
		require.NoError(t, err)
		assert.Nil(t, doc.Topics)
		assert.Equal(t, EmptyExportMessage, doc.EmptyMessage)
	})
}
