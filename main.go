package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	envFile string
)

// rootCmd: бот-посредник между пользователями и группой сотрудников.
var rootCmd = &cobra.Command{
	Use:     "medrelay",
	Short:   "Telegram-бот: пересылка сообщений пользователей в группу сотрудников и ответов обратно",
	Version: version,
	// без подкоманды запускается serve
	RunE: runServe,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "путь к файлу с переменными окружения")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
		os.Exit(1)
	}
}
