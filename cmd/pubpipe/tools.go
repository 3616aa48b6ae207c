package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jonathan/publication-pipeline/internal/config"
	"github.com/jonathan/publication-pipeline/internal/schemas"
	exportschemas "github.com/jonathan/publication-pipeline/schemas"
)

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password [password]",
	Short: "Print the bcrypt hash to use as the admin password hash",
	Long: `Hashes the admin password with the configured bcrypt cost and pepper
(BCRYPT_COST, PUBPIPE_PASSWORD_PEPPER). Reads the password from stdin when no
argument is given. Put the output in PUBPIPE_ADMIN_PASSWORD_HASH.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password := ""
		if len(args) == 1 {
			password = args[0]
		} else {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("failed to read password: %w", err)
			}
			password = strings.TrimRight(line, "\r\n")
		}

		passwords, err := config.NewPasswordConfig(os.Getenv)
		if err != nil {
			return err
		}
		hash, err := passwords.HashPassword(password)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

var validateEnriched bool

var validateCmd = &cobra.Command{
	Use:   "validate <file.json>",
	Short: "Validate an exported snapshot against its JSON Schema",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		schema := exportschemas.PublicationExport
		if validateEnriched {
			schema = exportschemas.EnrichedExport
		}
		if err := schemas.ValidateFile(schema, args[0]); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", args[0])
		return nil
	},
}

func init() {
	validateCmd.Flags().BoolVar(&validateEnriched, "enriched", false, "Validate against the fact table schema")
	rootCmd.AddCommand(hashPasswordCmd, validateCmd)
}
