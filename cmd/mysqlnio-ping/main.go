// Command mysqlnio-ping connects to a MySQL server, runs SELECT 1, and
// reports the round trip -- a minimal consumer of the driver used as a
// connectivity smoke test, grounded on the corpus's common cobra+viper CLI
// shape (flags bound through viper so a config file can supply the same
// options).
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/opengrove/mysqlnio"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mysqlnio-ping",
		Short: "Connect to a MySQL server and run SELECT 1",
		RunE:  runPing,
	}

	flags := cmd.Flags()
	flags.String("host", "127.0.0.1", "MySQL host")
	flags.Int("port", 3306, "MySQL port")
	flags.String("user", "root", "MySQL user")
	flags.String("password", "", "MySQL password")
	flags.String("database", "", "Initial schema")
	flags.String("ssl", "disable", "TLS policy: disable, prefer, require")
	flags.Duration("timeout", 5*time.Second, "Query timeout")
	flags.String("config", "", "Optional config file (yaml/json/toml) overriding defaults")

	_ = viper.BindPFlags(flags)

	return cmd
}

func runPing(cmd *cobra.Command, args []string) error {
	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg, err := mysqlnio.NewConfig(
		viper.GetString("host"),
		viper.GetInt("port"),
		viper.GetString("user"),
		viper.GetString("password"),
		viper.GetString("database"),
	)
	if err != nil {
		return err
	}
	cfg.QueryTimeout = viper.GetDuration("timeout")
	switch viper.GetString("ssl") {
	case "prefer":
		cfg.SSL = mysqlnio.SSLPrefer
	case "require":
		cfg.SSL = mysqlnio.SSLRequire
	}

	log, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	conn := mysqlnio.NewConnection(cfg, &mysqlnio.ConnectionOptions{Logger: log})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := conn.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	start := time.Now()
	future, err := conn.SendQuery("SELECT 1")
	if err != nil {
		return fmt.Errorf("send query: %w", err)
	}
	if _, err := future.Get(ctx); err != nil {
		return fmt.Errorf("query: %w", err)
	}

	fmt.Printf("ping ok: server=%s elapsed=%s\n", conn.Version(), time.Since(start))
	return nil
}
