package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ferg-cod3s/tableside/kiosk/internal/auth"
	"github.com/ferg-cod3s/tableside/kiosk/internal/clock"
	"github.com/ferg-cod3s/tableside/kiosk/internal/server"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or clear the stored table session",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := server.OpenStore(cfg, clock.Real())
			if err != nil {
				return err
			}
			defer st.Close()

			id, data, err := st.Load()
			if err != nil {
				return fmt.Errorf("failed to load session: %w", err)
			}
			if id == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "no session stored")
				return nil
			}
			out, err := json.MarshalIndent(data, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove the stored session so the kiosk starts fresh",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := server.OpenStore(cfg, clock.Real())
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Clear(); err != nil {
				return fmt.Errorf("failed to clear session: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "session cleared")
			return nil
		},
	})
	return cmd
}

func newStaffCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "staff",
		Short: "Staff reset helpers",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "hash-pin [pin]",
		Short: "Print the STAFF_PIN_HASH value for a staff PIN",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pin := ""
			if len(args) == 1 {
				pin = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("failed to read PIN: %w", err)
				}
				pin = strings.TrimSpace(line)
			}
			if pin == "" {
				return fmt.Errorf("PIN cannot be empty")
			}

			hash, err := auth.HashPIN(pin)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	})
	return cmd
}
