// crewlinkctl seeds and inspects a CrewLink database from the command
// line. Its main job is bootstrapping: a fresh deployment has no admin
// device yet, so the websocket registration flow cannot mint one.
package main

import (
	"context"
	"crypto/md5" // #nosec G501 -- interop: clients send md5 digests, storage uses argon2id
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	_ "crewlink/migrations"

	"crewlink/internal/identity"
	"crewlink/internal/infrastructure/config"
	"crewlink/internal/infrastructure/database"
	"crewlink/internal/registration"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "crewlinkctl",
		Short:         "Seed and inspect a CrewLink database",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "Path to the server config file")

	root.AddCommand(addAdminCmd(&configPath))
	root.AddCommand(addUserCmd(&configPath))
	root.AddCommand(listCmd(&configPath))

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// openStore loads config, opens the database, runs migrations, and
// returns a warmed identity store.
func openStore(ctx context.Context, configPath string) (*identity.Store, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	store := identity.NewStore(identity.NewSQLiteRepository(db.DB))
	if err := store.RefreshCache(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("loading identities: %w", err)
	}

	return store, func() { db.Close() }, nil
}

func addAdminCmd(configPath *string) *cobra.Command {
	var operator, place, icon string

	cmd := &cobra.Command{
		Use:   "add-admin",
		Short: "Create an admin device identity and print its credentials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, cleanup, err := openStore(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			broker := registration.NewBroker(store, 0)
			ident := &identity.Identity{
				Operator: operator,
				Place:    place,
				Icon:     icon,
				Role:     identity.RoleAdmin,
			}
			key, err := broker.AddPrivileged(cmd.Context(), ident)
			if err != nil {
				return fmt.Errorf("creating admin: %w", err)
			}

			// The key is shown exactly once; only its owner ever sees it.
			return printJSON(map[string]string{
				"id":       ident.ID,
				"key":      key,
				"operator": ident.Operator,
				"type":     string(ident.Role),
			})
		},
	}

	cmd.Flags().StringVar(&operator, "operator", "admin", "Operator name for the admin device")
	cmd.Flags().StringVar(&place, "place", "control", "Assigned place")
	cmd.Flags().StringVar(&icon, "icon", "shield", "Display icon")
	return cmd
}

func addUserCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add-user <operator> <password>",
		Short: "Create a web-user identity with a hashed password",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := openStore(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			// Web clients never send the raw password over the socket;
			// they send its md5 hex digest. Store the argon2id hash of
			// that digest so login compares like with like.
			digest := md5.Sum([]byte(args[1])) // #nosec G401
			hash, err := identity.HashSecret(hex.EncodeToString(digest[:]))
			if err != nil {
				return fmt.Errorf("hashing password: %w", err)
			}

			// Web users also get an auth key; a successful login hands
			// it over so the browser can call the REST API.
			ident := &identity.Identity{
				ID:           identity.NewWebUserID(),
				Operator:     args[0],
				Role:         identity.RoleWebUser,
				AuthKey:      identity.NewAuthKey(),
				PasswordHash: hash,
			}
			if err := store.Insert(cmd.Context(), ident); err != nil {
				return fmt.Errorf("creating user: %w", err)
			}

			return printJSON(map[string]string{
				"id":       ident.ID,
				"key":      ident.AuthKey,
				"operator": ident.Operator,
				"type":     string(ident.Role),
			})
		},
	}
	return cmd
}

func listCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all known identities",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, cleanup, err := openStore(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			idents, err := store.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing identities: %w", err)
			}

			safe := make([]identity.Identity, 0, len(idents))
			for i := range idents {
				safe = append(safe, idents[i].SafeExport())
			}
			return printJSON(safe)
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
