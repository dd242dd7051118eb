// Package version хранит сведения о сборке, которые задаются через -ldflags:
//
//	go build -ldflags "-X github.com/vladislavdragonenkov/ordersaga/internal/version.version=v1.0.0"
package version

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// BuildInfo описывает сборку бинарника.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// Get возвращает сведения о текущей сборке.
func Get() BuildInfo {
	return BuildInfo{Version: version, Commit: commit, Date: date}
}

// String форматирует сведения для логов и health-отчёта.
func (b BuildInfo) String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", b.Version, b.Commit, b.Date)
}

// String - сокращение для Get().String().
func String() string {
	return Get().String()
}

// Collector возвращает gauge saga_build_info со значением 1 и метками сборки и роли.
func (b BuildInfo) Collector(service string) prometheus.Collector {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "saga_build_info",
		Help: "Build information of the saga binary",
		ConstLabels: prometheus.Labels{
			"service": service,
			"version": b.Version,
			"commit":  b.Commit,
			"date":    b.Date,
		},
	}, func() float64 { return 1 })
}
