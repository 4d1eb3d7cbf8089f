package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"

	"mortality"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	cfg      = mortality.LoadConfig()
	logLevel = "info"
)

func main() {
	root := &cobra.Command{
		Use:   "mortality",
		Short: "burner wallet funding for token launches",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return mortality.SetLogLevel(logLevel)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&cfg.RPC, "rpc", cfg.RPC, "Solana RPC URL (empty disables chain operations)")
	root.PersistentFlags().StringVar(&cfg.BlockEngine, "block-engine", cfg.BlockEngine, "Jito block engine URL")
	root.PersistentFlags().StringVar(&cfg.TipFloorURL, "tip-floor", cfg.TipFloorURL, "Jito tip floor URL")
	root.PersistentFlags().Float64Var(&cfg.MaxTip, "max-tip", cfg.MaxTip, "relay tip ceiling in SOL")
	root.PersistentFlags().StringVar(&cfg.DbPath, "db", cfg.DbPath, "wallet database path")
	root.PersistentFlags().StringVar(&cfg.User, "user", cfg.User, "user id")
	root.PersistentFlags().StringVar(&logLevel, "log-level", logLevel, "log level")

	root.AddCommand(initCmd())
	root.AddCommand(recoverCmd())
	root.AddCommand(importKeyCmd())
	root.AddCommand(generateCmd())
	root.AddCommand(importCmd())
	root.AddCommand(exportCmd())
	root.AddCommand(listCmd())
	root.AddCommand(refreshCmd())
	root.AddCommand(distributeCmd())
	root.AddCommand(returnCmd())
	root.AddCommand(upgradeCmd())
	root.AddCommand(deleteCmd())
	root.AddCommand(clearCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(tipCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(platformsCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "create a mnemonic-backed main wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			mnemonic, wallet, err := mortality.Generate()
			if err != nil {
				return err
			}

			fmt.Println("keypair generated")
			fmt.Printf("pubkey: %s\n\n", wallet.PublicKey)
			fmt.Println("save your seed phrase:")
			fmt.Println(mnemonic)
			fmt.Println("")

			return setMain(cmd.Context(), mortality.Role(role), wallet.PrivateKey)
		},
	}
	cmd.Flags().StringVar(&role, "role", string(mortality.Funder), "developer or funder")
	return cmd
}

func recoverCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "restore a main wallet from its mnemonic",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Print("mnemonic: ")
			reader := bufio.NewReader(os.Stdin)
			mnemonic, _ := reader.ReadString('\n')

			wallet, err := mortality.Recover(strings.TrimSpace(mnemonic))
			if err != nil {
				return err
			}
			fmt.Printf("pubkey: %s\n", wallet.PublicKey)
			return setMain(cmd.Context(), mortality.Role(role), wallet.PrivateKey)
		},
	}
	cmd.Flags().StringVar(&role, "role", string(mortality.Funder), "developer or funder")
	return cmd
}

func importKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import-key <developer|funder>",
		Short: "set a main wallet from a private key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := strings.TrimSpace(string(readpwd("private key: ")))
			return setMain(cmd.Context(), mortality.Role(args[0]), key)
		},
	}
}

func setMain(ctx context.Context, role mortality.Role, key string) error {
	m, err := open(ctx)
	if err != nil {
		return err
	}
	defer m.Close()

	w, err := m.ImportMainWallet(ctx, role, key)
	if err != nil {
		return err
	}
	fmt.Printf("✓ %s wallet: %s (%s SOL)\n", role, w.PublicKey, balance(w.Balance))
	return nil
}

func generateCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "generate burner wallets",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer m.Close()

			fresh, err := m.Generate(cmd.Context(), n)
			if err != nil {
				return err
			}
			for _, w := range fresh {
				fmt.Println(w.PublicKey)
			}
			fmt.Printf("✓ generated %d wallets (%d total)\n", len(fresh), len(m.Wallets()))
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "count", "n", 1, "number of wallets")
	return cmd
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "import wallets from an export file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			m, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer m.Close()

			n, err := m.ImportWallets(cmd.Context(), data)
			if err != nil {
				return err
			}
			fmt.Printf("✓ imported %d wallets\n", n)
			return nil
		},
	}
}

func exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "export wallets with private keys",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer m.Close()

			data, err := m.Export()
			if err != nil {
				return err
			}
			if len(args) == 0 {
				fmt.Println(string(data))
				return nil
			}

			path := args[0]
			if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
				return err
			}
			if err := os.WriteFile(path, data, 0600); err != nil {
				return err
			}
			fmt.Printf("✓ exported %d wallets to %s\n", len(m.Wallets()), path)
			return nil
		},
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list wallets",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer m.Close()

			printWallets(m)
			return nil
		},
	}
}

func refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "refresh balances from chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer m.Close()

			ok, err := m.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("nothing refreshed (no rpc configured)")
			}
			printWallets(m)
			return nil
		},
	}
}

func distributeCmd() *cobra.Command {
	var (
		random bool
		minSOL string
		maxSOL string
	)
	cmd := &cobra.Command{
		Use:   "distribute [amount] [pubkey...]",
		Short: "send SOL from the funder to wallets",
		Long:  "Sends a fixed SOL amount to every wallet (or the listed ones).\nWith --random each wallet gets a uniform amount in [--min, --max].",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := mortality.DistributeOptions{Random: random}
			if random {
				var err error
				if opts.Min, err = optionalSOL(minSOL); err != nil {
					return err
				}
				if opts.Max, err = optionalSOL(maxSOL); err != nil {
					return err
				}
			} else {
				if len(args) == 0 {
					return fmt.Errorf("amount required")
				}
				amount, err := mortality.ParseSOL(args[0])
				if err != nil {
					return err
				}
				opts.Amount = amount
				args = args[1:]
			}

			m, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer m.Close()

			report, err := m.Distribute(cmd.Context(), opts, args...)
			printReport("distribute", report)
			return err
		},
	}
	cmd.Flags().BoolVar(&random, "random", false, "random amount per wallet")
	cmd.Flags().StringVar(&minSOL, "min", "", "random minimum in SOL")
	cmd.Flags().StringVar(&maxSOL, "max", "", "random maximum in SOL")
	return cmd
}

func returnCmd() *cobra.Command {
	var funderPays bool
	cmd := &cobra.Command{
		Use:   "return [pubkey...]",
		Short: "sweep wallets back to the funder",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer m.Close()

			report, err := m.Return(cmd.Context(), funderPays, args...)
			printReport("return", report)
			return err
		},
	}
	cmd.Flags().BoolVar(&funderPays, "funder-pays", false, "funder pays every fee")
	return cmd
}

func upgradeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade <platform> [pubkey...]",
		Short: "pay the platform fee for wallets",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer m.Close()

			report, err := m.Upgrade(cmd.Context(), strings.ToUpper(args[0]), args[1:]...)
			printReport("upgrade", report)
			return err
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <pubkey>",
		Short: "delete one wallet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer m.Close()

			if err := m.DeleteWallet(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("✓ deleted")
			return nil
		},
	}
}

func clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "return funds and delete every empty wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer m.Close()

			report, kept, err := m.Clear(cmd.Context())
			if report.Total > 0 || report.Skipped > 0 {
				printReport("return", report)
			}
			if err != nil {
				return err
			}
			if kept > 0 {
				fmt.Printf("kept %d wallets that still hold funds\n", kept)
			}
			fmt.Printf("✓ %d wallets left\n", len(m.Wallets()))
			return nil
		},
	}
}

func backupCmd() *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "snapshot wallets into the backup table",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer m.Close()

			if list {
				backups, err := m.Backups(cmd.Context())
				if err != nil {
					return err
				}
				mainBackups, err := m.MainBackups(cmd.Context())
				if err != nil {
					return err
				}
				if len(backups) == 0 && len(mainBackups) == 0 {
					fmt.Println("no backups")
					return nil
				}

				fmt.Printf("%-36s | %-9s | %-44s | %s\n", "ID", "KIND", "CONTENT", "CREATED")
				fmt.Println(strings.Repeat("-", 115))
				for _, b := range backups {
					content := fmt.Sprintf("%d wallets", len(b.Wallets))
					fmt.Printf("%-36s | %-9s | %-44s | %s\n", b.ID, b.Operation, content, b.CreatedAt.Format("2006-01-02 15:04:05"))
				}
				for _, b := range mainBackups {
					fmt.Printf("%-36s | %-9s | %-44s | %s\n", b.ID, b.Role, b.Wallet.PublicKey, b.CreatedAt.Format("2006-01-02 15:04:05"))
				}
				return nil
			}

			b, mainBackups, err := m.Backup(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("✓ backup %s (%d wallets, %d main wallets)\n", b.ID, len(b.Wallets), len(mainBackups))
			return nil
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "list backups instead")
	return cmd
}

func tipCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tip",
		Short: "show the current relay tip",
		RunE: func(cmd *cobra.Command, args []string) error {
			oracle := mortality.NewTipOracle(cfg.TipFloorURL, nil)
			ceiling := mortality.SOLToLamports(cfg.MaxTip)
			tip := oracle.Tip(cmd.Context(), ceiling)
			fmt.Printf("tip: %s SOL (ceiling %s SOL)\n", mortality.FormatSOL(tip), mortality.FormatSOL(ceiling))
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the http api",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			gin.SetMode(gin.ReleaseMode)
			srv := mortality.NewServer(store, cfg.TipFloorURL, mortality.NewMetrics())
			return srv.Run(cmd.Context(), listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", cfg.Listen, "listen address")
	return cmd
}

func platformsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "platforms",
		Short: "list upgrade platforms",
		Run: func(cmd *cobra.Command, args []string) {
			keys := make([]string, 0, len(mortality.Platforms))
			for k := range mortality.Platforms {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			fmt.Printf("%-7s | %-8s | %-44s | %s\n", "KEY", "NAME", "FEE ADDRESS", "TIP")
			fmt.Println(strings.Repeat("-", 80))
			for _, k := range keys {
				p := mortality.Platforms[k]
				fee := p.FeeAddress
				if fee == "" {
					fee = "-"
				}
				fmt.Printf("%-7s | %-8s | %-44s | %d\n", k, p.Name, fee, p.TipLamports)
			}
		},
	}
}

func openStore() (*mortality.Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DbPath), 0700); err != nil {
		return nil, err
	}
	return mortality.OpenStore(cfg.DbPath, readpwd("passphrase: "))
}

func open(ctx context.Context) (*mortality.Manager, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DbPath), 0700); err != nil {
		return nil, err
	}
	m, err := mortality.Open(cfg, readpwd("passphrase: "), nil)
	if err != nil {
		return nil, err
	}
	if err := m.Load(ctx); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

func printWallets(m *mortality.Manager) {
	mw := m.MainWallets()
	if mw.Developer != nil {
		fmt.Printf("developer: %s  %s SOL\n", mw.Developer.PublicKey, balance(mw.Developer.Balance))
	}
	if mw.Funder != nil {
		fmt.Printf("funder:    %s  %s SOL\n", mw.Funder.PublicKey, balance(mw.Funder.Balance))
	}

	wallets := m.Wallets()
	if len(wallets) == 0 {
		fmt.Println("no wallets")
		return
	}

	fmt.Println("")
	fmt.Printf("%-3s | %-44s | %14s | %-8s | %s\n", "#", "PUBKEY", "BALANCE", "PLATFORM", "KEY")
	fmt.Println(strings.Repeat("-", 105))
	for i, w := range wallets {
		fmt.Printf("%-3d | %-44s | %14s | %-8s | %s\n",
			i+1, w.PublicKey, balance(w.Balance), w.Platform, mortality.MaskPrivateKey(w.PrivateKey))
	}
}

func printReport(op string, r mortality.Report) {
	switch r.Outcome() {
	case mortality.OutcomeEmpty:
		fmt.Printf("%s: nothing to do", op)
	case mortality.OutcomeSuccess:
		fmt.Printf("✓ %s: all %d transfers landed", op, r.Total)
	case mortality.OutcomePartial:
		fmt.Printf("! %s: %d of %d transfers landed", op, r.Succeeded, r.Total)
	default:
		fmt.Printf("✗ %s: all %d transfers failed", op, r.Total)
	}
	if r.Skipped > 0 {
		fmt.Printf(", %d skipped", r.Skipped)
	}
	fmt.Println()

	for _, sig := range r.Signatures {
		if sig != "" {
			fmt.Printf("  %s\n", sig)
		}
	}
}

func balance(b *string) string {
	if b == nil {
		return "-"
	}
	return *b
}

func optionalSOL(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return mortality.ParseSOL(s)
}

func readpwd(prompt string) []byte {
	fmt.Print(prompt)
	pwd, _ := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	return pwd
}
