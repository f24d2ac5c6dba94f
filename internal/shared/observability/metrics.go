package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics definitions
var (
	ParsingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "storyindex_parsing_seconds",
		Help:    "Time spent parsing a story or preview source file.",
		Buckets: prometheus.DefBuckets,
	}, []string{"language"})

	ExtractionFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storyindex_extraction_failures_total",
		Help: "Story files excluded from the index because they failed to parse or extract.",
	}, []string{"code"})

	IndexEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "storyindex_index_entries",
		Help: "Number of entries in the current story index.",
	}, []string{"type"})

	IndexBuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "storyindex_index_build_seconds",
		Help:    "Time spent producing a story index, including incremental rebuilds.",
		Buckets: prometheus.DefBuckets,
	})

	IndexGeneration = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storyindex_index_generation",
		Help: "Monotonic version of the story index owned by the generator.",
	})

	CacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storyindex_cache_hits_total",
		Help: "Story files served from the extraction cache.",
	})

	WatcherEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storyindex_watcher_events_total",
		Help: "Total number of file system events received by the watcher.",
	})

	ChannelMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storyindex_channel_messages_total",
		Help: "Channel messages by event type and direction.",
	}, []string{"event", "direction"})

	ChannelDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storyindex_channel_dropped_total",
		Help: "Channel messages dropped, by reason.",
	}, []string{"reason"})

	StoryRenderPhaseTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storyindex_story_render_phase_total",
		Help: "Story render state transitions by target phase.",
	}, []string{"phase"})

	IndexWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storyindex_index_writes_total",
		Help: "index.json writes by result.",
	}, []string{"result"})

	WriteQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storyindex_write_queue_depth",
		Help: "Index write requests waiting for the writer.",
	})
)
