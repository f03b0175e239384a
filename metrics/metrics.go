// Package metrics turns ledger notifications into Prometheus series.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tolelom/ecobuild/events"
)

const namespace = "ecobuild"

// Metrics holds the node's collectors.
type Metrics struct {
	blockHeight     prometheus.Gauge
	blocksTotal     prometheus.Counter
	txExecuted      *prometheus.CounterVec
	txFailed        *prometheus.CounterVec
	playersTotal    prometheus.Counter
	poolsTotal      prometheus.Counter
	creditsTotal    prometheus.Counter
	receiptsTotal   *prometheus.CounterVec
	tokensMinted    *prometheus.CounterVec
	bricksConverted prometheus.Counter
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		blockHeight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "block_height",
			Help:      "height of the last committed block",
		}),
		blocksTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_committed_total",
			Help:      "blocks committed by this node",
		}),
		txExecuted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_executed_total",
			Help:      "transactions applied, by type",
		}, []string{"type"}),
		txFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_failed_total",
			Help:      "transactions rejected, by type and ledger error code",
		}, []string{"type", "code"}),
		playersTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "players_initialized_total",
			Help:      "player ledgers created",
		}),
		poolsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pools_created_total",
			Help:      "project pools created",
		}),
		creditsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credits_contributed_total",
			Help:      "credits contributed to project pools",
		}),
		receiptsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipts_minted_total",
			Help:      "collection receipts minted, by material",
		}, []string{"material"}),
		tokensMinted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_minted_total",
			Help:      "BLOCK tokens minted, by waste kind",
		}, []string{"waste_kind"}),
		bricksConverted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bricks_converted_total",
			Help:      "bricks created from burned BLOCK tokens",
		}),
	}
}

// Attach subscribes m to every event emitter publishes.
func (m *Metrics) Attach(emitter *events.Emitter) (detach func()) {
	return emitter.SubscribeAll(m.Observe)
}

// Observe updates the collectors for one event.
func (m *Metrics) Observe(ev events.Event) {
	switch ev.Type {
	case events.EventBlockCommit:
		m.blockHeight.Set(float64(ev.BlockHeight))
		m.blocksTotal.Inc()
	case events.EventTxExecuted:
		m.txExecuted.WithLabelValues(label(ev, "type")).Inc()
	case events.EventTxFailed:
		m.txFailed.WithLabelValues(label(ev, "type"), label(ev, "code")).Inc()
	case events.EventPlayerInitialized:
		m.playersTotal.Inc()
	case events.EventPoolCreated:
		m.poolsTotal.Inc()
	case events.EventCreditsContributed:
		m.creditsTotal.Add(number(ev.Data["amount"]))
	case events.EventReceiptMinted:
		m.receiptsTotal.WithLabelValues(label(ev, "material_kind")).Inc()
	case events.EventTokensMinted:
		m.tokensMinted.WithLabelValues(label(ev, "waste_kind")).Add(number(ev.Data["amount"]))
	case events.EventBrickConverted:
		m.bricksConverted.Inc()
	}
}

func label(ev events.Event, key string) string {
	if s, ok := ev.Data[key].(string); ok && s != "" {
		return s
	}
	return "unknown"
}

func number(v any) float64 {
	switch n := v.(type) {
	case uint64:
		return float64(n)
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case float64:
		return n
	}
	return 0
}
