package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomaskal/finledger/internal/config"
	"github.com/tomaskal/finledger/internal/database"
	"github.com/tomaskal/finledger/internal/database/repository"
	"github.com/tomaskal/finledger/internal/llm"
	"github.com/tomaskal/finledger/internal/logger"
	"github.com/tomaskal/finledger/internal/service"
	"github.com/tomaskal/finledger/internal/tokenize"
	"github.com/tomaskal/finledger/internal/worker"
)

const defaultOrganization = "default"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "finledger:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		usage()
		return fmt.Errorf("missing command")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log := logger.New()
	ctx := logger.WithContext(context.Background(), log)

	app, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	switch args[0] {
	case "import":
		return app.cmdImport(ctx, args[1:])
	case "recalc":
		return app.cmdRecalc(ctx, args[1:])
	case "add":
		return app.cmdAdd(ctx, args[1:])
	case "add-account":
		return app.cmdAddAccount(ctx, args[1:])
	case "add-category":
		return app.cmdAddCategory(ctx, args[1:])
	case "reset":
		return app.maintenance.Reset(ctx)
	case "migrate", "seed":
		// newApp already migrated and seeded; reaching here means success.
		return nil
	default:
		usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: finledger <command> [flags]

commands:
  import        import a CSV file into an account
  add           add a manual transaction
  add-account   create a manual account
  add-category  create a category
  recalc        rebuild balance snapshots for an account
  migrate       apply schema migrations and exit
  seed          ensure default categories exist and exit
  reset         wipe all user data`)
}

type app struct {
	db           interface{ Close() error }
	log          zerolog.Logger
	cfg          config.Config
	loc          *time.Location
	accounts     *repository.AccountRepo
	importer     *service.ImportService
	transactions *service.TransactionService
	categorizer  *service.CategorizerService
	balance      *service.BalanceService
	maintenance  *service.MaintenanceService
	queue        *worker.Queue
}

func newApp(ctx context.Context, cfg config.Config, log zerolog.Logger) (*app, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := database.RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := database.SeedDefaults(ctx, db, defaultOrganization); err != nil {
		db.Close()
		return nil, fmt.Errorf("seed defaults: %w", err)
	}

	acctRepo := repository.NewAccountRepo(db)
	txRepo := repository.NewTransactionRepo(db)
	catRepo := repository.NewCategoryRepo(db)
	ruleRepo := repository.NewRuleRepo(db)
	snapRepo := repository.NewSnapshotRepo(db)
	offsetRepo := repository.NewOffsetRepo(db)
	mismatchRepo := repository.NewMismatchRepo(db)

	tk, err := tokenize.New(0)
	if err != nil {
		db.Close()
		return nil, err
	}
	categorizer := &service.CategorizerService{
		Transactions: txRepo,
		Rules:        ruleRepo,
		Categories:   catRepo,
		Tokenizer:    tk,
		Suggestions:  suggestionProvider(cfg.LLM),
	}
	loc, err := time.LoadLocation(cfg.Import.Timezone)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("timezone %q: %w", cfg.Import.Timezone, err)
	}
	balance := &service.BalanceService{
		Accounts:     acctRepo,
		Transactions: txRepo,
		Snapshots:    snapRepo,
		Offsets:      offsetRepo,
		Mismatches:   mismatchRepo,
		Log:          log,
		Clock:        func() time.Time { return time.Now().In(loc) },
	}
	importer := &service.ImportService{
		DB:           db,
		Accounts:     acctRepo,
		Transactions: txRepo,
		Categories:   catRepo,
		Rules:        ruleRepo,
		Categorizer:  categorizer,
		Balance:      balance,
		Similarity:   cfg.Import.DescriptionSimilarity,
		Log:          log,
	}
	transactions := &service.TransactionService{
		Accounts:     acctRepo,
		Transactions: txRepo,
		Categories:   catRepo,
		Rules:        ruleRepo,
		Categorizer:  categorizer,
		Balance:      balance,
		Log:          log,
	}

	queue := worker.NewQueue(cfg.Worker.QueueSize, log)
	err = queue.Start(ctx, cfg.Worker.Count, func(ctx context.Context, job worker.Job) error {
		if job.AffectedFrom.IsZero() {
			// A full rebuild is also when scheduled transactions whose
			// day has arrived get applied to the balance.
			return balance.SettleMatured(ctx, job.AccountID)
		}
		return balance.RecalculateFrom(ctx, job.AccountID, job.AffectedFrom)
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &app{
		db:           db,
		log:          log,
		cfg:          cfg,
		loc:          loc,
		accounts:     acctRepo,
		importer:     importer,
		transactions: transactions,
		categorizer:  categorizer,
		balance:      balance,
		maintenance:  &service.MaintenanceService{DB: db},
		queue:        queue,
	}, nil
}

func (a *app) Close() {
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.queue.Stop(stopCtx); err != nil {
		a.log.Warn().Err(err).Msg("worker queue did not drain")
	}
	_ = a.db.Close()
}

// suggestionProvider builds the icon/color hint chain. The remote model
// runs first when configured; the offline heuristic always backstops it.
func suggestionProvider(cfg config.LLMConfig) llm.SuggestionProvider {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	heuristic := llm.NewHeuristicProvider(timeout)
	if cfg.Provider == "gemini" {
		if key := cfg.ResolveAPIKey(); key != "" {
			return llm.NewChain(llm.NewGenAIProvider(key, cfg.Model, timeout), heuristic)
		}
	}
	return heuristic
}

func (a *app) cmdImport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	account := fs.String("account", "", "account id (required)")
	file := fs.String("file", "", "csv file path (required)")
	dateCol := fs.String("date", "date", "date column name")
	descCol := fs.String("description", "description", "description column name")
	amountCol := fs.String("amount", "amount", "amount column name")
	currencyCol := fs.String("currency", "", "currency column name (optional)")
	externalCol := fs.String("external-id", "", "external id column name (optional)")
	dateFormat := fs.String("date-format", time.DateOnly, "go date layout for the date column")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *account == "" || *file == "" {
		return fmt.Errorf("import: -account and -file are required")
	}

	f, err := os.Open(*file)
	if err != nil {
		return err
	}
	defer f.Close()

	report, err := a.importer.Import(ctx, *account, f, service.FieldMapping{
		Date:        *dateCol,
		Description: *descCol,
		Amount:      *amountCol,
		Currency:    *currencyCol,
		ExternalID:  *externalCol,
		DateFormat:  *dateFormat,
	})
	if err != nil {
		return err
	}
	fmt.Printf("inserted %d, duplicate %d, invalid %d, rejected %d\n",
		report.Inserted, report.Duplicate, report.Invalid, report.Rejected)
	for _, row := range report.InvalidRows {
		fmt.Printf("  line %d: %s\n", row.Line, row.Reason)
	}
	return nil
}

func (a *app) cmdAdd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	account := fs.String("account", "", "account id (required)")
	date := fs.String("date", "", "transaction date YYYY-MM-DD (default today)")
	desc := fs.String("description", "", "description (required)")
	amount := fs.Int64("amount", 0, "amount in cents, negative for spending")
	category := fs.String("category", "", "category id (optional)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *account == "" || *desc == "" {
		return fmt.Errorf("add: -account and -description are required")
	}
	when := database.Now().In(a.loc)
	if *date != "" {
		parsed, err := time.Parse(time.DateOnly, *date)
		if err != nil {
			return fmt.Errorf("add: bad date %q", *date)
		}
		when = parsed
	}
	t, err := a.transactions.CreateManual(ctx, service.ManualTransaction{
		AccountID:   *account,
		Date:        when,
		Description: *desc,
		Amount:      *amount,
		CategoryID:  *category,
	})
	if err != nil {
		return err
	}
	fmt.Println(t.ID)
	return nil
}

func (a *app) cmdRecalc(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("recalc", flag.ContinueOnError)
	account := fs.String("account", "", "account id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *account == "" {
		return fmt.Errorf("recalc: -account is required")
	}
	if err := a.queue.Enqueue(ctx, worker.Job{AccountID: *account}); err != nil {
		return err
	}
	return nil
}

func (a *app) cmdAddAccount(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("add-account", flag.ContinueOnError)
	name := fs.String("name", "", "account name (required)")
	currency := fs.String("currency", a.cfg.Import.DefaultCurrency, "ISO currency code")
	balance := fs.Int64("balance", 0, "current balance in cents")
	opened := fs.String("opened", "", "tracking start date YYYY-MM-DD (default today)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return fmt.Errorf("add-account: -name is required")
	}
	openedAt := database.Now().In(a.loc)
	if *opened != "" {
		parsed, err := time.Parse(time.DateOnly, *opened)
		if err != nil {
			return fmt.Errorf("add-account: bad date %q", *opened)
		}
		openedAt = parsed
	}
	account := repository.Account{
		ID:             uuid.NewString(),
		OrganizationID: defaultOrganization,
		Name:           *name,
		Kind:           repository.AccountManual,
		Currency:       strings.ToUpper(*currency),
		Balance:        *balance,
		OpenedAt:       openedAt,
	}
	if err := a.accounts.Insert(ctx, account); err != nil {
		return err
	}
	if err := a.balance.RecomputeOffset(ctx, account.ID); err != nil {
		return err
	}
	if err := a.balance.Recalculate(ctx, account.ID); err != nil {
		return err
	}
	fmt.Println(account.ID)
	return nil
}

func (a *app) cmdAddCategory(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("add-category", flag.ContinueOnError)
	name := fs.String("name", "", "category name (required)")
	macro := fs.String("macro", "", "macro group (optional)")
	kind := fs.String("kind", "", "kind, e.g. expense or income (optional)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return fmt.Errorf("add-category: -name is required")
	}
	c, err := a.categorizer.CreateCategory(ctx, defaultOrganization, *name, *macro, *kind)
	if err != nil {
		return err
	}
	fmt.Println(c.ID)
	return nil
}
