// Command loadtest нагружает HTTP API order-service и печатает сводку по сценариям.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

type loadMode string

const (
	modeCreate       loadMode = "create"
	modeCreateReplay loadMode = "create-replay"
	modeCreateAwait  loadMode = "create-await"
)

// Options - параметры прогона.
type Options struct {
	BaseURL      string
	Total        int
	TotalSet     bool
	Duration     time.Duration
	Concurrency  int
	Timeout      time.Duration
	AwaitTimeout time.Duration
	PollInterval time.Duration
	Mode         loadMode
	ProductCode  string
	UnitValue    float64
	Quantity     int
	OutputPath   string
}

// Validate проверяет параметры прогона.
func (o Options) Validate() error {
	countBound := o.Duration == 0 || o.TotalSet
	awaiting := o.Mode == modeCreateAwait
	return validation.ValidateStruct(&o,
		validation.Field(&o.BaseURL, validation.Required),
		validation.Field(&o.Mode, validation.Required, validation.In(modeCreate, modeCreateReplay, modeCreateAwait).Error("unsupported mode")),
		validation.Field(&o.Duration, validation.Min(time.Duration(0))),
		validation.Field(&o.Total, validation.When(countBound, validation.Required, validation.Min(1))),
		validation.Field(&o.Concurrency, validation.Required, validation.Min(1)),
		validation.Field(&o.Timeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&o.AwaitTimeout, validation.When(awaiting, validation.Required, validation.Min(time.Millisecond))),
		validation.Field(&o.PollInterval, validation.When(awaiting, validation.Required, validation.Min(time.Millisecond))),
		validation.Field(&o.ProductCode, validation.Required),
		validation.Field(&o.UnitValue, validation.Required, validation.Min(0.0).Exclusive()),
		validation.Field(&o.Quantity, validation.Required, validation.Min(1)),
	)
}

// target описывает границу прогона для отчёта.
func (o Options) target() string {
	switch {
	case o.Duration <= 0:
		return fmt.Sprintf("count:%d", o.Total)
	case o.TotalSet:
		return fmt.Sprintf("duration:%s,max-total:%d", o.Duration, o.Total)
	default:
		return fmt.Sprintf("duration:%s", o.Duration)
	}
}

func parseOptions(args []string) (Options, error) {
	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		opts Options
		mode string
	)
	fs.StringVar(&opts.BaseURL, "url", "http://localhost:8080", "order-service base URL")
	fs.IntVar(&opts.Total, "total", 400, "scenarios to run; with -duration acts as an upper bound when set")
	fs.DurationVar(&opts.Duration, "duration", 0, "run for this long instead of a fixed count")
	fs.IntVar(&opts.Concurrency, "concurrency", 40, "parallel workers")
	fs.DurationVar(&opts.Timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.DurationVar(&opts.AwaitTimeout, "await-timeout", 30*time.Second, "create-await: how long to wait for the saga outcome")
	fs.DurationVar(&opts.PollInterval, "poll-interval", 200*time.Millisecond, "create-await: order status poll interval")
	fs.StringVar(&mode, "mode", string(modeCreate), "create | create-replay | create-await")
	fs.StringVar(&opts.ProductCode, "product", "COMIC_BOOKS", "product code to order")
	fs.Float64Var(&opts.UnitValue, "unit-value", 15.5, "product unit value")
	fs.IntVar(&opts.Quantity, "quantity", 1, "items per order")
	fs.StringVar(&opts.OutputPath, "output", "", "write the JSON report to this file")
	if err := fs.Parse(args); err != nil {
		return Options{}, err
	}
	fs.Visit(func(f *flag.Flag) { opts.TotalSet = opts.TotalSet || f.Name == "total" })

	opts.Mode = loadMode(strings.TrimSpace(mode))
	opts.BaseURL = strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	opts.ProductCode = strings.TrimSpace(opts.ProductCode)

	if err := opts.Validate(); err != nil {
		return Options{}, fmt.Errorf("invalid options: %w", err)
	}
	return opts, nil
}

func main() {
	os.Exit(realMain(os.Args[1:], os.Stdout, os.Stderr))
}

func realMain(args []string, stdout, stderr io.Writer) int {
	opts, err := parseOptions(args)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := newOrderClient(opts.BaseURL, &http.Client{Timeout: opts.Timeout})
	result, err := runLoad(ctx, opts, client)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "build report: %v\n", err)
		return 1
	}

	printReport(stdout, result, opts)
	if opts.OutputPath != "" {
		if err := saveReport(opts.OutputPath, result); err != nil {
			_, _ = fmt.Fprintf(stderr, "write report: %v\n", err)
			return 1
		}
	}
	if result.FailedScenarios > 0 {
		return 1
	}
	return 0
}
