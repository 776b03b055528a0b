package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arzzra/media_control/pkg/config"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "mediagw",
	Short: "Медиа шлюз: RTP соединения, центр уведомлений, сигналы AU",
	Long: `mediagw управляет эндпоинтами медиа шлюза.

Конфигурация читается из файла (--config) и переменных окружения
с префиксом MEDIAGW_, например MEDIAGW_LOG_LEVEL=debug.`,
	SilenceUsage: true,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Работа с конфигурацией",
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Проверить конфигурацию и вывести итоговые значения",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "VALID: rtp %s:%d-%d, payload types %v\n",
			cfg.RTP.LocalAddress, cfg.RTP.MinPort, cfg.RTP.MaxPort, cfg.RTP.PayloadTypes)
		fmt.Fprintf(out, "dispatch: %d секций, очередь %d\n", cfg.Dispatch.Partitions, cfg.Dispatch.QueueSize)
		if cfg.Metrics.Enabled {
			fmt.Fprintf(out, "metrics: %s%s\n", cfg.Metrics.Listen, cfg.Metrics.Path)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"файл конфигурации (yaml, json, toml)")

	configCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(demoCmd)
}
