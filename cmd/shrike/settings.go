package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/shrike-backup/shrike/internal/store"
	"github.com/shrike-backup/shrike/internal/sync"
)

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the destination and webhook settings",
	}

	cmd.AddCommand(newSettingsShowCmd())
	cmd.AddCommand(newSettingsSetCmd())
	return cmd
}

func newSettingsShowCmd() *cobra.Command {
	var (
		asJSON    bool
		showToken bool
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the current settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fileStore, err := openStore()
			if err != nil {
				return err
			}
			settings, err := fileStore.LoadSettings()
			if err != nil {
				return err
			}
			if !showToken {
				settings.WebhookToken = maskToken(settings.WebhookToken)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(settings)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "destination_root\t%s\n", settings.DestinationRoot)
			_, _ = fmt.Fprintf(w, "backup_dir_name\t%s\n", settings.BackupDirName)
			_, _ = fmt.Fprintf(w, "machine_name\t%s\n", settings.MachineName)
			_, _ = fmt.Fprintf(w, "webhook_port\t%d\n", settings.WebhookPort)
			_, _ = fmt.Fprintf(w, "webhook_token\t%s\n", settings.WebhookToken)
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print settings as JSON")
	cmd.Flags().BoolVar(&showToken, "show-token", false, "print the webhook token in clear")
	return cmd
}

func newSettingsSetCmd() *cobra.Command {
	var (
		destinationRoot string
		backupDirName   string
		machineName     string
		webhookPort     int
		rotateToken     bool
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change one or more settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fileStore, err := openStore()
			if err != nil {
				return err
			}
			settings, err := fileStore.LoadSettings()
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("destination-root") {
				settings.DestinationRoot = destinationRoot
			}
			if flags.Changed("backup-dir-name") {
				settings.BackupDirName = backupDirName
			}
			if flags.Changed("machine-name") {
				settings.MachineName = machineName
			}
			if flags.Changed("webhook-port") {
				settings.WebhookPort = webhookPort
			}
			if rotateToken {
				settings.WebhookToken = uuid.New().String()
			}

			if err := validateSettings(settings); err != nil {
				return err
			}
			if err := fileStore.UpdateSettings(settings); err != nil {
				return err
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "settings updated")
			if rotateToken {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "new webhook token: %s\n", settings.WebhookToken)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&destinationRoot, "destination-root", "", "absolute path of the backup destination root")
	cmd.Flags().StringVar(&backupDirName, "backup-dir-name", "", "folder created under the destination root")
	cmd.Flags().StringVar(&machineName, "machine-name", "", "per-machine folder under the backup folder")
	cmd.Flags().IntVar(&webhookPort, "webhook-port", store.DefaultWebhookPort, "port the webhook listens on")
	cmd.Flags().BoolVar(&rotateToken, "rotate-token", false, "generate a new webhook token")
	return cmd
}

// validateSettings rejects values that would make every later sync fail
func validateSettings(s store.Settings) error {
	if s.WebhookPort < 1 || s.WebhookPort > 65535 {
		return fmt.Errorf("webhook port must be between 1 and 65535: %d", s.WebhookPort)
	}
	if s.DestinationRoot != "" && !filepath.IsAbs(s.DestinationRoot) {
		return fmt.Errorf("destination root must be an absolute path: %s", s.DestinationRoot)
	}
	return sync.CheckComponents(s)
}

func maskToken(token string) string {
	if len(token) <= 4 {
		return strings.Repeat("*", len(token))
	}
	return strings.Repeat("*", len(token)-4) + token[len(token)-4:]
}
