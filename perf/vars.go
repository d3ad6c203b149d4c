package perf

import (
	"expvar"
	"net/http"

	"github.com/encodeous/metric"
)

var (
	DispatchLatency  = metric.NewHistogram("1m1s")
	HelloSize        = metric.NewHistogram("10s1s")
	HellosSent       = metric.NewCounter("10s1s")
	HellosReceived   = metric.NewCounter("10s1s")
	HellosDropped    = metric.NewCounter("10s1s")
	HellosMissed     = metric.NewCounter("10s1s")
	SendFailures     = metric.NewCounter("10s1s")
	EntriesOmitted   = metric.NewCounter("10s1s")
	DuplicatePackets = metric.NewCounter("10s1s")
	SentBytes        = metric.NewCounter("10s1s")
	RecvBytes        = metric.NewCounter("10s1s")
)

func init() {
	http.Handle("/debug/metrics", metric.Handler(metric.Exposed))
	expvar.Publish("nhdp:HelloSize", HelloSize)

	expvar.Publish("nhdp:HellosSent/s", HellosSent)
	expvar.Publish("nhdp:HellosReceived/s", HellosReceived)
	expvar.Publish("nhdp:HellosDropped/s", HellosDropped)
	expvar.Publish("nhdp:HellosMissed/s", HellosMissed)
	expvar.Publish("nhdp:SendFailures/s", SendFailures)
	expvar.Publish("nhdp:EntriesOmitted/s", EntriesOmitted)
	expvar.Publish("nhdp:DuplicatePackets/s", DuplicatePackets)
	expvar.Publish("nhdp:SentBytes/s", SentBytes)
	expvar.Publish("nhdp:RecvBytes/s", RecvBytes)
	expvar.Publish("nhdp:DispatchLatency (µs)", DispatchLatency)
}
