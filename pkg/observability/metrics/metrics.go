package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
)

var (
    once sync.Once

    RetainGets = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "go_retainer",
        Name:      "retain_get_total",
        Help:      "Retained message lookups by scope (local|cluster) and result",
    }, []string{"scope", "result"})

    RetainSets = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "go_retainer",
        Name:      "retain_set_total",
        Help:      "Retained message writes by result",
    }, []string{"result"})

    StoreRetained = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "go_retainer",
        Name:      "store_retained",
        Help:      "Retained messages held by the local store",
    })

    StoreSwept = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_retainer",
        Name:      "store_swept_total",
        Help:      "Expired retained messages removed by the sweeper",
    })

    FanoutPeers = prometheus.NewHistogram(prometheus.HistogramOpts{
        Namespace: "go_retainer",
        Subsystem: "fanout",
        Name:      "peers",
        Help:      "Number of peers queried per cluster-wide lookup",
        Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34},
    })

    FanoutDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
        Namespace: "go_retainer",
        Subsystem: "fanout",
        Name:      "duration_seconds",
        Help:      "Time spent waiting for all peers of a lookup",
        Buckets:   prometheus.DefBuckets,
    })

    PeerReplies = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "go_retainer",
        Subsystem: "fanout",
        Name:      "peer_replies_total",
        Help:      "Peer outcomes of lookups (ok|empty|mismatch|error)",
    }, []string{"result"})

    PeerRequestsServed = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "go_retainer",
        Subsystem: "peer",
        Name:      "requests_served_total",
        Help:      "Inbound peer requests answered by this node, by reply kind",
    }, []string{"kind"})

    Members = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "go_retainer",
        Name:      "members_total",
        Help:      "Current number of known cluster members",
    })

    GRPCConnDials = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_retainer",
        Subsystem: "grpc_conn",
        Name:      "dials_total",
        Help:      "Total number of new gRPC connections dialed",
    })
    GRPCConnReuse = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_retainer",
        Subsystem: "grpc_conn",
        Name:      "reuse_total",
        Help:      "Total number of gRPC connection reuses from cache",
    })
    GRPCConnEvictions = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_retainer",
        Subsystem: "grpc_conn",
        Name:      "evictions_total",
        Help:      "Total number of cached gRPC connections evicted",
    })
    GRPCConnActive = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "go_retainer",
        Subsystem: "grpc_conn",
        Name:      "active",
        Help:      "Number of active cached gRPC connections",
    })
)

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
    once.Do(func() {
        prometheus.MustRegister(
            RetainGets,
            RetainSets,
            StoreRetained,
            StoreSwept,
            FanoutPeers,
            FanoutDuration,
            PeerReplies,
            PeerRequestsServed,
            Members,
            GRPCConnDials,
            GRPCConnReuse,
            GRPCConnEvictions,
            GRPCConnActive,
        )
    })
}
