package metrics

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ethereum-optimism/infra/op-gatekeeper/types"
)

const (
	MetricsNamespace = "gatekeeper"
)

var (
	Debug                bool = true
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	suiteResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "suite_results_total",
		Help:      "Count of suite results by terminal status",
	}, []string{
		"environment",
		"suite",
		"status",
	})

	suiteDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "suite_duration_seconds",
		Help:      "Wall-clock duration of suites including retries",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
	}, []string{
		"environment",
		"suite",
	})

	suiteRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "suite_retries_total",
		Help:      "Count of suite attempts retried, by the status that triggered the retry",
	}, []string{
		"suite",
		"status",
	})

	breakerStateChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "infra_breaker_transitions_total",
		Help:      "Count of infrastructure circuit breaker state changes",
	}, []string{
		"to",
	})

	gateVerdictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "gate_verdicts_total",
		Help:      "Count of quality gate verdicts",
	}, []string{
		"environment",
		"verdict",
	})

	gateViolationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "gate_violations_total",
		Help:      "Count of quality gate violations by kind",
	}, []string{
		"environment",
		"kind",
	})

	runSuccessRate = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_success_rate",
		Help:      "Success rate percentage of the latest run",
	}, []string{
		"environment",
	})

	runSuites = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_suites",
		Help:      "Suite counts of the latest run",
	}, []string{
		"environment",
		"outcome",
	})

	runDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Wall-clock duration of the latest run",
	}, []string{
		"environment",
	})

	lastRunTimestamp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time the latest run completed",
	}, []string{
		"environment",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

func RecordSuiteResult(environment string, result types.SuiteResult) {
	if !result.Status.Valid() {
		log.Error("RecordSuiteResult - invalid status", "status", result.Status)
		return
	}
	if Debug {
		log.Debug("metric inc",
			"m", "suite_results_total",
			"environment", environment,
			"suite", result.SuiteID,
			"status", result.Status)
	}
	suiteResultsTotal.WithLabelValues(environment, result.SuiteID, string(result.Status)).Inc()
	if result.Status != types.SuiteStatusSkipped {
		suiteDuration.WithLabelValues(environment, result.SuiteID).Observe(result.Duration.Seconds())
	}
}

func RecordRetry(suiteID string, status types.SuiteStatus) {
	suiteRetriesTotal.WithLabelValues(suiteID, string(status)).Inc()
}

func RecordBreakerTransition(to string) {
	breakerStateChanges.WithLabelValues(to).Inc()
}

func RecordRun(environment string, report types.AggregateReport, verdict types.GateVerdict, completedAt time.Time) {
	gateVerdictsTotal.WithLabelValues(environment, string(verdict.Verdict)).Inc()
	for _, v := range verdict.Violations {
		gateViolationsTotal.WithLabelValues(environment, string(v.Kind)).Inc()
	}
	runSuccessRate.WithLabelValues(environment).Set(report.SuccessRate)
	runSuites.WithLabelValues(environment, "passed").Set(float64(report.Passed))
	runSuites.WithLabelValues(environment, "failed").Set(float64(report.Failed))
	runSuites.WithLabelValues(environment, "skipped").Set(float64(report.Skipped))
	runSuites.WithLabelValues(environment, "missing").Set(float64(len(report.Missing)))
	runDuration.WithLabelValues(environment).Set(report.Duration.Seconds())
	lastRunTimestamp.WithLabelValues(environment).Set(float64(completedAt.Unix()))
}
