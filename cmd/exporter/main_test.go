package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExecuteConfigError(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{
		"--chat", "@chat",
		"--include-topics", "News",
		"--exclude-topics", "Spam",
	})

	err := cmd.Execute()
	require.Error(t, err)

	// Ошибка конфигурации возвращается через RunE и несет свой тип:
	// main завершает процесс кодом 2, не трогая os.Exit внутри run.
	var cfgErr *configError
	require.ErrorAs(t, err, &cfgErr)
	require.Contains(t, err.Error(), "взаимоисключающие")
}
