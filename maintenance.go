package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"medrelay/internal/db"
	"medrelay/internal/metrics"
	"medrelay/internal/retention"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Однократно удалить устаревшие соответствия сообщений и записи о новостях",
	Long: `Удаляет соответствия сообщений старше MAPPING_RETENTION и записи о
скопированных новостях старше NEWS_RETENTION, печатает число удалённых записей
в формате JSON и завершается. Подходит для запуска из внешнего cron.`,
	RunE: runPurge,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Создать таблицы PostgreSQL (STORE_DRIVER=postgres)",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(migrateCmd)
}

func runPurge(cmd *cobra.Command, _ []string) error {
	rt, err := setup(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer rt.Close()

	runner, err := retention.New(rt.store, retention.Options{
		MappingAge: rt.cfg.MappingRetention,
		NewsAge:    rt.cfg.NewsRetention,
		Cron:       rt.cfg.RetentionCron,
	}, metrics.New(), rt.log)
	if err != nil {
		return err
	}
	res, err := runner.RunOnce(cmd.Context())
	out, _ := json.Marshal(res)
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}

// runMigrate создаёт схему. setup уже вызывает Migrate для Postgres, команда
// нужна, чтобы подготовить базу до первого запуска бота.
func runMigrate(cmd *cobra.Command, _ []string) error {
	rt, err := setup(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer rt.Close()

	if _, ok := rt.store.(*db.PostgresStore); !ok {
		rt.log.Info().Str("driver", rt.cfg.StoreDriver).Msg("Хранилищу не нужна миграция схемы")
		return nil
	}
	rt.log.Info().Msg("Схема базы данных актуальна")
	return nil
}
