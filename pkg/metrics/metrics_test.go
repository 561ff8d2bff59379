package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with a dedicated registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then it should be created successfully", func() {
				So(manager, ShouldNotBeNil)
				So(manager.namespace, ShouldEqual, "tcgprice")
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test_ns"),
				WithSubsystem("test_sub"),
				WithHistogramBuckets([]float64{1, 2, 3}),
				WithConstLabels(map[string]string{"instance": "a"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then the options are applied", func() {
				So(manager.namespace, ShouldEqual, "test_ns")
				So(manager.subsystem, ShouldEqual, "test_sub")
				So(manager.histogramBuckets, ShouldResemble, []float64{1, 2, 3})
				So(manager.constLabels["instance"], ShouldEqual, "a")
			})

			Convey("Then metrics are registered on the given registry", func() {
				manager.sourceRequests.WithLabelValues("EBAY", "success").Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				found := false
				for _, f := range families {
					if strings.HasPrefix(f.GetName(), "test_ns_test_sub_source_requests_total") {
						found = true
					}
				}
				So(found, ShouldBeTrue)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Convey("When recording source metrics", func() {
			before := testutil.ToFloat64(globalManager.breakerRejections.WithLabelValues("JUSTTCG"))
			RecordBreakerRejection("JUSTTCG")

			Convey("Then the counter increases", func() {
				So(testutil.ToFloat64(globalManager.breakerRejections.WithLabelValues("JUSTTCG")), ShouldEqual, before+1)
			})
		})

		Convey("When updating the breaker state gauge", func() {
			UpdateBreakerState("EBAY", 2)

			Convey("Then the gauge holds the state", func() {
				So(testutil.ToFloat64(globalManager.breakerState.WithLabelValues("EBAY")), ShouldEqual, 2)
			})
		})

		Convey("When recording every metric family", func() {
			So(func() {
				RecordSourceRequest("EBAY", "success", 12)
				RecordSourceRetry("EBAY")
				RecordRateLimitRejection("EBAY")
				RecordMalformedResponse("EBAY")
				RecordAuthFailure("EBAY")
				RecordRefresh("fresh", 40)
				RecordFallback("EBAY", "circuit_open")
				RecordHistoryAppend()
				RecordHistoryError()
				RecordCacheWrite()
				RecordCacheError()
				RecordCacheLookup(true)
				RecordCacheLookup(false)
				UpdateCacheEntries(2)
				RecordDedupHit()
				RecordTaskEnqueued()
				UpdateQueueSize(3)
				UpdateQueueCapacity(10)
				RecordQueueRejection("full")
				UpdateWorkerCount(4)
				RecordTaskRetry()
				RecordTaskFailure()
				RecordTaskLatency(100)
				RecordStaleSweep()
				RecordHTTPRequest("refresh", "POST", "202")
				RecordHTTPRequestDuration("refresh", "POST", "202", 3)
				RecordErrorByEndpoint("refresh", "POST", "client_error")
				UpdateSystemMemoryUsage(1024)
				UpdateSystemGoroutineCount(10)
				RecordSystemGCPauseTime(0.5)
			}, ShouldNotPanic)
		})

		Convey("Then GetRegistry returns the custom registry", func() {
			So(GetRegistry(), ShouldEqual, customRegistry)
		})
	})
}
