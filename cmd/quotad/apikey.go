package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fieldset/quotad/internal/config"
	"github.com/fieldset/quotad/internal/db"
	"github.com/fieldset/quotad/internal/repository"
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "API key management commands",
}

var apikeyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new API key",
	RunE:  runAPIKeyCreate,
}

var apikeyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all API keys",
	RunE:  runAPIKeyList,
}

var apikeyDeactivateCmd = &cobra.Command{
	Use:   "deactivate [id]",
	Short: "Deactivate an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runAPIKeyDeactivate,
}

var apikeyDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runAPIKeyDelete,
}

var apikeyName string

func init() {
	apikeyCreateCmd.Flags().StringVar(&apikeyName, "name", "", "Key name")
	apikeyCreateCmd.MarkFlagRequired("name")

	apikeyCmd.AddCommand(apikeyCreateCmd)
	apikeyCmd.AddCommand(apikeyListCmd)
	apikeyCmd.AddCommand(apikeyDeactivateCmd)
	apikeyCmd.AddCommand(apikeyDeleteCmd)

	apikeyCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/quotad/quotad.yaml", "Path to configuration file")
}

func openKeyRepository() (*repository.APIKeyRepository, func(), error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}

	database, err := db.New(cfg.Storage.Path, cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, nil, err
	}

	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, nil, err
	}

	return repository.NewAPIKeyRepository(database.DB), func() { database.Close() }, nil
}

func runAPIKeyCreate(cmd *cobra.Command, args []string) error {
	keys, closeDB, err := openKeyRepository()
	if err != nil {
		return err
	}
	defer closeDB()

	result, err := keys.Create(apikeyName)
	if err != nil {
		return err
	}

	fmt.Printf("API key %s created\n", result.APIKey.Name)
	fmt.Printf("ID:  %s\n", result.APIKey.ID)
	fmt.Printf("Key: %s\n", result.Key)
	fmt.Println("Store the key now; it is not shown again.")
	return nil
}

func runAPIKeyList(cmd *cobra.Command, args []string) error {
	keys, closeDB, err := openKeyRepository()
	if err != nil {
		return err
	}
	defer closeDB()

	all, err := keys.List()
	if err != nil {
		return err
	}

	fmt.Printf("%-36s  %-20s  %-12s  %-8s  %s\n", "ID", "Name", "Prefix", "Active", "Created")
	fmt.Println(strings.Repeat("-", 100))

	for _, k := range all {
		fmt.Printf("%-36s  %-20s  %-12s  %-8v  %s\n",
			k.ID, k.Name, k.KeyPrefix, k.Active, k.CreatedAt.Format("2006-01-02 15:04"))
	}

	return nil
}

func runAPIKeyDeactivate(cmd *cobra.Command, args []string) error {
	keys, closeDB, err := openKeyRepository()
	if err != nil {
		return err
	}
	defer closeDB()

	if err := keys.Deactivate(args[0]); err != nil {
		return err
	}

	fmt.Printf("API key %s deactivated\n", args[0])
	return nil
}

func runAPIKeyDelete(cmd *cobra.Command, args []string) error {
	keys, closeDB, err := openKeyRepository()
	if err != nil {
		return err
	}
	defer closeDB()

	// Confirm deletion
	fmt.Printf("Are you sure you want to delete API key %s? [y/N]: ", args[0])
	reader := bufio.NewReader(os.Stdin)
	response, _ := reader.ReadString('\n')
	response = strings.TrimSpace(strings.ToLower(response))

	if response != "y" && response != "yes" {
		fmt.Println("Cancelled")
		return nil
	}

	if err := keys.Delete(args[0]); err != nil {
		return err
	}

	fmt.Printf("API key %s deleted\n", args[0])
	return nil
}
