package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/jeovahfialho/cctool/internal/book"
	"github.com/jeovahfialho/cctool/internal/config"
	"github.com/jeovahfialho/cctool/internal/cryptocompare"
	"github.com/jeovahfialho/cctool/internal/domain"
	"github.com/jeovahfialho/cctool/internal/replay"
	"github.com/jeovahfialho/cctool/internal/service"
	"github.com/jeovahfialho/cctool/internal/storage/cache"
	"github.com/jeovahfialho/cctool/internal/storage/postgres"
	pkglogger "github.com/jeovahfialho/cctool/pkg/logger"
)

const (
	storeRemote   = "remote"
	storePostgres = "postgres"

	defaultPortfolioName = "New portfolio"
)

func main() {
	var cfg *config.Config

	var rootCmd = &cobra.Command{
		Use:   "cctool",
		Short: "Exchange trade history importer",
		Long: `Imports Poloniex and Bittrex trade history exports into a portfolio.
Trades are normalized, aggregated per order and replayed in timestamp order
on a FIFO position book kept in the remote portfolio service or in Postgres.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Process()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return pkglogger.Init(cfg.LogLevel, cfg.Development())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			pkglogger.Close()
		},
	}
	rootCmd.PersistentFlags().String("store", storeRemote, "Position store: remote or postgres")

	var importCmd = &cobra.Command{
		Use:   "import FILE...",
		Short: "Imports trade history files into a portfolio",
		Long: `Imports trade history files into a portfolio.
Without --portfolio on the remote store a portfolio named "New portfolio"
is created. Every file must match a supported export format.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			portfolio, _ := cmd.Flags().GetString("portfolio")
			ignore, _ := cmd.Flags().GetBool("ignore-errors")
			archive, _ := cmd.Flags().GetBool("archive")
			store, _ := cmd.Flags().GetString("store")
			return importFiles(cmd.Context(), cfg, store, portfolio, ignore, archive, args)
		},
	}
	importCmd.Flags().StringP("portfolio", "p", "", "Portfolio name part (remote) or id (postgres)")
	importCmd.Flags().BoolP("ignore-errors", "i", false, "Skip duplicate or unmatched trades instead of aborting")
	importCmd.Flags().Bool("archive", false, "Archive the aggregate trades in Postgres")

	var inspectCmd = &cobra.Command{
		Use:   "inspect FILE...",
		Short: "Prints the aggregate trades of history files without importing them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return inspectFiles(cmd.Context(), cfg, args)
		},
	}

	var positionsCmd = &cobra.Command{
		Use:   "positions",
		Short: "Lists the open and sold positions of a portfolio",
		RunE: func(cmd *cobra.Command, args []string) error {
			portfolio, _ := cmd.Flags().GetString("portfolio")
			store, _ := cmd.Flags().GetString("store")
			return listPositions(cmd.Context(), cfg, store, portfolio)
		},
	}
	positionsCmd.Flags().StringP("portfolio", "p", "", "Portfolio name part (remote) or id (postgres)")
	_ = positionsCmd.MarkFlagRequired("portfolio")

	var wipeCmd = &cobra.Command{
		Use:   "wipe",
		Short: "Deletes every position of a portfolio",
		RunE: func(cmd *cobra.Command, args []string) error {
			portfolio, _ := cmd.Flags().GetString("portfolio")
			store, _ := cmd.Flags().GetString("store")
			return wipePortfolio(cmd.Context(), cfg, store, portfolio)
		},
	}
	wipeCmd.Flags().StringP("portfolio", "p", "", "Portfolio name part (remote) or id (postgres)")
	_ = wipeCmd.MarkFlagRequired("portfolio")

	var portfoliosCmd = &cobra.Command{
		Use:   "portfolios",
		Short: "Lists the portfolios of the remote account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listPortfolios(cmd.Context(), cfg)
		},
	}

	var healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Checks Postgres, Redis and the remote price service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkHealth(cmd.Context(), cfg)
		},
	}

	var cacheFlushCmd = &cobra.Command{
		Use:   "cache-flush [PATTERN]",
		Short: "Removes cached prices",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern := "price:*"
			if len(args) == 1 {
				pattern = args[0]
			}
			return flushCache(cmd.Context(), cfg, pattern)
		},
	}

	rootCmd.AddCommand(importCmd, inspectCmd, positionsCmd, wipeCmd, portfoliosCmd, healthCmd, cacheFlushCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// session is the set of connections one command works with. close releases
// all of them.
type session struct {
	cfg      *config.Config
	client   *cryptocompare.Client
	remote   *cryptocompare.Session
	db       *postgres.DB
	redis    *cache.RedisCache
	resolver book.PriceResolver
}

func newSession(cfg *config.Config) *session {
	client := cryptocompare.NewClient(
		cryptocompare.WithTimeout(cfg.HTTPTimeout),
		cryptocompare.WithBaseURLs(cfg.AuthURL, cfg.SiteURL, cfg.MinAPIURL),
		cryptocompare.WithLogger(pkglogger.Log),
	)

	s := &session{cfg: cfg, client: client}
	s.resolver = cryptocompare.NewPriceResolver(client)
	if r, err := cache.NewRedisCache(cfg); err == nil {
		s.redis = r
		s.resolver = cache.NewPriceCache(r, s.resolver, pkglogger.Log)
	} else {
		pkglogger.Debug("redis unavailable, prices are not cached", zap.Error(err))
	}
	return s
}

func (s *session) close(ctx context.Context) {
	if s.remote != nil {
		if err := s.client.Logout(ctx, s.remote); err != nil {
			pkglogger.Warn("logout failed", zap.Error(err))
		}
	}
	if s.db != nil {
		s.db.Close()
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
}

func (s *session) login(ctx context.Context) error {
	if s.remote != nil {
		return nil
	}

	email, password, err := credentials(s.cfg)
	if err != nil {
		return err
	}

	remote, err := s.client.Login(ctx, email, password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	s.remote = remote
	return nil
}

func (s *session) database(ctx context.Context) (*postgres.DB, error) {
	if s.db != nil {
		return s.db, nil
	}

	db, err := postgres.NewDB(s.cfg)
	if err != nil {
		return nil, err
	}
	if err := db.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	s.db = db
	return db, nil
}

// openBook loads the position book of portfolio from store. On the remote
// store an empty portfolio name creates a new portfolio when create is set.
func (s *session) openBook(ctx context.Context, store, portfolio string, create bool) (*book.Book, error) {
	opts := []book.Option{
		book.WithQuote(s.cfg.QuoteCurrency),
		book.WithPriceResolver(s.resolver),
		book.WithLogger(pkglogger.Log),
	}

	switch store {
	case storePostgres:
		if portfolio == "" {
			return nil, errors.New("postgres store needs --portfolio")
		}
		db, err := s.database(ctx)
		if err != nil {
			return nil, err
		}
		return postgres.NewPositionStore(db.Pool(), portfolio, pkglogger.Log).LoadBook(ctx, opts...)

	case storeRemote:
		if err := s.login(ctx); err != nil {
			return nil, err
		}
		id, err := s.portfolioID(ctx, portfolio, create)
		if err != nil {
			return nil, err
		}
		return cryptocompare.NewStore(s.client, s.remote, id).LoadBook(ctx, opts...)

	default:
		return nil, fmt.Errorf("unknown store %q, want %s or %s", store, storeRemote, storePostgres)
	}
}

func (s *session) portfolioID(ctx context.Context, part string, create bool) (string, error) {
	if part == "" {
		if !create {
			return "", errors.New("no portfolio given")
		}
		p, err := s.client.CreatePortfolio(ctx, s.remote, defaultPortfolioName, "", s.cfg.QuoteCurrency)
		if err != nil {
			return "", fmt.Errorf("create portfolio: %w", err)
		}
		pkglogger.Warn("no portfolio given, created a new one",
			zap.String("name", defaultPortfolioName),
			zap.String("id", p.ID.String()))
		return p.ID.String(), nil
	}

	portfolios, err := s.client.Portfolios(ctx, s.remote)
	if err != nil {
		return "", err
	}
	p, ok := cryptocompare.FindPortfolio(portfolios, part)
	if !ok {
		return "", fmt.Errorf("no portfolio matches %q", part)
	}
	return p.ID.String(), nil
}

func credentials(cfg *config.Config) (string, string, error) {
	email, password := cfg.Email, cfg.Password

	if email == "" {
		fmt.Fprint(os.Stderr, "Email: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return "", "", fmt.Errorf("read email: %w", err)
		}
		email = strings.TrimSpace(line)
	}

	if password == "" {
		fd := int(os.Stdin.Fd())
		if !term.IsTerminal(fd) {
			return "", "", errors.New("CC_PASSWORD is not set and stdin is not a terminal")
		}
		fmt.Fprint(os.Stderr, "Password: ")
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", "", fmt.Errorf("read password: %w", err)
		}
		password = string(raw)
	}

	return email, password, nil
}

func importFiles(ctx context.Context, cfg *config.Config, store, portfolio string, ignore, archive bool, files []string) error {
	s := newSession(cfg)
	defer s.close(context.Background())

	var archiver service.Archiver
	if archive {
		db, err := s.database(ctx)
		if err != nil {
			return err
		}
		archiver = postgres.NewTradeArchive(db.Pool(), cfg.BatchSize)
	}

	b, err := s.openBook(ctx, store, portfolio, true)
	if err != nil {
		return err
	}

	policy := replay.Abort
	if ignore {
		policy = replay.Skip
	}

	imports := service.NewImportService(cfg.Workers, archiver, pkglogger.Log)
	result, err := imports.Import(ctx, b, service.ImportRequest{
		Files:   files,
		Policy:  policy,
		Archive: archive,
	})
	if result != nil && result.Report != nil {
		printReport(result)
	}
	if err != nil {
		return err
	}

	fmt.Printf("\nPortfolio %s: %d open, %d sold positions\n",
		b.PortfolioID(), len(b.OpenPositions()), len(b.SoldPositions()))
	return nil
}

func printReport(result *service.ImportResult) {
	for _, f := range result.Files {
		fmt.Printf("%-40s %-10s %d trades\n", f.Path, f.Exchange, f.Trades)
	}

	r := result.Report
	fmt.Printf("\nImport %s: %d applied, %d skipped", result.ImportID, r.Applied, r.Skipped)
	if result.Archived > 0 {
		fmt.Printf(", %d archived", result.Archived)
	}
	fmt.Println()

	for _, o := range r.Outcomes {
		if o.Status == replay.Applied {
			continue
		}
		fmt.Printf("  #%d %s %s %s %s: %s\n",
			o.Index, o.Trade.Direction, o.Trade.Amount, o.Trade.Symbol, o.Trade.Comment, o.Error)
	}
}

func inspectFiles(ctx context.Context, cfg *config.Config, files []string) error {
	imports := service.NewImportService(cfg.Workers, nil, pkglogger.Log)

	result, err := imports.Inspect(ctx, service.ImportRequest{Files: files})
	if err != nil {
		return err
	}

	for _, f := range result.Files {
		fmt.Printf("%-40s %-10s %d trades\n", f.Path, f.Exchange, f.Trades)
	}
	fmt.Println()

	for _, t := range result.Trades {
		fmt.Printf("%s %-4s %-6s %16s @ %-12s %-10s %s\n",
			time.Unix(t.Timestamp, 0).UTC().Format("2006-01-02 15:04:05"),
			t.Direction, t.Symbol, t.Amount, t.Price, t.Exchange, t.Comment)
	}
	fmt.Printf("\n%d aggregate trades\n", len(result.Trades))
	return nil
}

func listPositions(ctx context.Context, cfg *config.Config, store, portfolio string) error {
	s := newSession(cfg)
	defer s.close(context.Background())

	b, err := s.openBook(ctx, store, portfolio, false)
	if err != nil {
		return err
	}

	fmt.Printf("Open positions (%d):\n", len(b.OpenPositions()))
	for _, p := range b.OpenPositions() {
		printPosition(p)
	}

	fmt.Printf("\nSold positions (%d):\n", len(b.SoldPositions()))
	for _, p := range b.SoldPositions() {
		printPosition(p)
	}
	return nil
}

func printPosition(p domain.Position) {
	if p.Sold {
		fmt.Printf("  %-8s %-6s %16s @ %-12s sold %s @ %s  %s\n",
			p.ID, p.Symbol, p.Amount, p.EntryPrice, p.SoldAmount, p.SoldPrice, p.Description())
		return
	}
	fmt.Printf("  %-8s %-6s %16s @ %-12s %-10s %s\n",
		p.ID, p.Symbol, p.Amount, p.EntryPrice, p.Exchange, p.Description())
}

func wipePortfolio(ctx context.Context, cfg *config.Config, store, portfolio string) error {
	s := newSession(cfg)
	defer s.close(context.Background())

	b, err := s.openBook(ctx, store, portfolio, false)
	if err != nil {
		return err
	}

	count := len(b.OpenPositions()) + len(b.SoldPositions())
	if err := b.DeleteAll(ctx); err != nil {
		return err
	}

	fmt.Printf("Deleted %d positions from portfolio %s\n", count, b.PortfolioID())
	return nil
}

func listPortfolios(ctx context.Context, cfg *config.Config) error {
	s := newSession(cfg)
	defer s.close(context.Background())

	if err := s.login(ctx); err != nil {
		return err
	}

	portfolios, err := s.client.Portfolios(ctx, s.remote)
	if err != nil {
		return err
	}

	for _, p := range portfolios {
		fmt.Printf("%-10s %-30s %-5s %d members\n", p.ID, p.Name, p.Currency, len(p.Positions()))
	}
	return nil
}

func checkHealth(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	s := newSession(cfg)
	defer s.close(context.Background())

	failed := false

	fmt.Print("PostgreSQL: ")
	if db, err := s.database(ctx); err != nil {
		failed = true
		fmt.Printf("error: %v\n", err)
	} else if err := db.HealthCheck(ctx); err != nil {
		failed = true
		fmt.Printf("error: %v\n", err)
	} else {
		fmt.Println("OK")
	}

	fmt.Print("Redis: ")
	if s.redis == nil {
		fmt.Println("not available")
	} else if err := s.redis.HealthCheck(ctx); err != nil {
		failed = true
		fmt.Printf("error: %v\n", err)
	} else {
		fmt.Println("OK")
	}

	fmt.Print("Price service: ")
	if _, err := s.client.Prices(ctx, cfg.QuoteCurrency, 0, "ETH"); err != nil {
		failed = true
		fmt.Printf("error: %v\n", err)
	} else {
		fmt.Println("OK")
	}

	if failed {
		return errors.New("health check failed")
	}
	return nil
}

func flushCache(ctx context.Context, cfg *config.Config, pattern string) error {
	redisCache, err := cache.NewRedisCache(cfg)
	if err != nil {
		return err
	}
	defer redisCache.Close()

	if err := redisCache.DeletePattern(ctx, pattern); err != nil {
		return err
	}

	fmt.Printf("Removed cached keys matching %s\n", pattern)
	return nil
}
