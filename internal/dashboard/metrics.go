package dashboard

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/temoto/thermolink/tele"
)

var (
	descMax = prometheus.NewDesc("thermolink_max_temperature_celsius",
		"Hottest pixel of the latest frame.", nil, nil)
	descStatus = prometheus.NewDesc("thermolink_status",
		"Current telemetry status, 1 for active value.", []string{"status"}, nil)
	descLink = prometheus.NewDesc("thermolink_link_state",
		"Current link state, 1 for active value.", []string{"state"}, nil)
	descFrames = prometheus.NewDesc("thermolink_frames_total",
		"Frames decoded since start.", nil, nil)
	descConnects = prometheus.NewDesc("thermolink_link_connects_total",
		"Completed satellite sessions.", nil, nil)
	descLinkErrors = prometheus.NewDesc("thermolink_link_errors_total",
		"Link errors by kind.", []string{"kind"}, nil)
	descRecvBytes = prometheus.NewDesc("thermolink_link_received_bytes_total",
		"Bytes received in completed sessions.", nil, nil)
	descAlerts = prometheus.NewDesc("thermolink_alerts_total",
		"Fire alerts by result.", []string{"result"}, nil)
)

// collector reads live values on scrape.
type collector struct {
	opt Options
}

func newCollector(opt Options) *collector { return &collector{opt: opt} }

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descMax
	ch <- descStatus
	ch <- descLink
	ch <- descFrames
	if c.opt.LinkStat != nil {
		ch <- descConnects
		ch <- descLinkErrors
		ch <- descRecvBytes
	}
	if c.opt.AlertStat != nil {
		ch <- descAlerts
	}
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	st := c.opt.State()
	ch <- prometheus.MustNewConstMetric(descMax, prometheus.GaugeValue, float64(st.Max))
	for _, s := range []tele.Status{tele.StatusSearching, tele.StatusOffline, tele.StatusNominal, tele.StatusFire} {
		ch <- prometheus.MustNewConstMetric(descStatus, prometheus.GaugeValue, b2f(st.Status == s), s.String())
	}
	for _, l := range []tele.LinkState{tele.LinkSearching, tele.LinkConnecting, tele.LinkStreaming} {
		ch <- prometheus.MustNewConstMetric(descLink, prometheus.GaugeValue, b2f(st.Link == l), l.String())
	}
	ch <- prometheus.MustNewConstMetric(descFrames, prometheus.CounterValue, float64(st.Frames))

	if c.opt.LinkStat != nil {
		ls := c.opt.LinkStat()
		ch <- prometheus.MustNewConstMetric(descConnects, prometheus.CounterValue, float64(ls.Conn.Value()))
		ch <- prometheus.MustNewConstMetric(descLinkErrors, prometheus.CounterValue, float64(ls.Errors.Desync.Value()), "desync")
		ch <- prometheus.MustNewConstMetric(descLinkErrors, prometheus.CounterValue, float64(ls.Errors.Timeout.Value()), "timeout")
		ch <- prometheus.MustNewConstMetric(descRecvBytes, prometheus.CounterValue, float64(ls.Recv.Size.Value()))
	}
	if c.opt.AlertStat != nil {
		as := c.opt.AlertStat()
		ch <- prometheus.MustNewConstMetric(descAlerts, prometheus.CounterValue, float64(as.Sent), "sent")
		ch <- prometheus.MustNewConstMetric(descAlerts, prometheus.CounterValue, float64(as.Failed), "failed")
		ch <- prometheus.MustNewConstMetric(descAlerts, prometheus.CounterValue, float64(as.Dropped), "dropped")
	}
}
