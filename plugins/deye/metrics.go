package deye

import (
	"github.com/prometheus/client_golang/prometheus"
)

var commandsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "deyehome_deye_commands_total",
		Help: "Device commands sent by result",
	},
	[]string{"result"},
)

// MetricsCollector exports the latest snapshot of every loaded account. It
// never fetches; scrapes read what the coordinators already hold.
type MetricsCollector struct {
	accounts *accountSet

	humidity    *prometheus.GaugeVec
	target      *prometheus.GaugeVec
	temperature *prometheus.GaugeVec
	power       *prometheus.GaugeVec
	online      *prometheus.GaugeVec
	tankFull    *prometheus.GaugeVec
	defrosting  *prometheus.GaugeVec
	lastSuccess *prometheus.GaugeVec
}

func NewMetricsCollector(accounts *accountSet) *MetricsCollector {
	labels := []string{"device_id", "device_name"}
	return &MetricsCollector{
		accounts: accounts,
		humidity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "deyehome_deye_humidity_percent",
			Help: "Environment humidity per device",
		}, labels),
		target: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "deyehome_deye_target_humidity_percent",
			Help: "Target humidity per device",
		}, labels),
		temperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "deyehome_deye_temperature_celsius",
			Help: "Environment temperature per device",
		}, labels),
		power: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "deyehome_deye_power_on_bool",
			Help: "Power switch per device (1=on, 0=off)",
		}, labels),
		online: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "deyehome_deye_online_bool",
			Help: "Device reachable in the last fetch (1=yes, 0=no)",
		}, labels),
		tankFull: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "deyehome_deye_water_tank_full_bool",
			Help: "Water tank full per device",
		}, labels),
		defrosting: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "deyehome_deye_defrosting_bool",
			Help: "Defrosting per device",
		}, labels),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "deyehome_deye_last_fetch_timestamp_seconds",
			Help: "Last successful fetch per account (epoch seconds)",
		}, []string{"entry_id"}),
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	c.humidity.Describe(ch)
	c.target.Describe(ch)
	c.temperature.Describe(ch)
	c.power.Describe(ch)
	c.online.Describe(ch)
	c.tankFull.Describe(ch)
	c.defrosting.Describe(ch)
	c.lastSuccess.Describe(ch)
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	c.humidity.Reset()
	c.target.Reset()
	c.temperature.Reset()
	c.power.Reset()
	c.online.Reset()
	c.tankFull.Reset()
	c.defrosting.Reset()
	c.lastSuccess.Reset()

	for _, account := range c.accounts.list() {
		snap := account.Snapshot()
		if !snap.FetchedAt.IsZero() {
			c.lastSuccess.WithLabelValues(account.EntryID()).Set(float64(snap.FetchedAt.Unix()))
		}
		for _, status := range snap.Devices {
			labels := prometheus.Labels{
				"device_id":   status.Device.DeviceID,
				"device_name": status.Device.DeviceName,
			}
			c.online.With(labels).Set(boolToFloat(status.Available()))
			if !status.Available() {
				continue
			}
			s := status.State
			c.humidity.With(labels).Set(float64(s.EnvironmentHumidity))
			c.target.With(labels).Set(float64(s.TargetHumidity))
			c.temperature.With(labels).Set(float64(s.EnvironmentTemperature))
			c.power.With(labels).Set(boolToFloat(s.PowerSwitch))
			c.tankFull.With(labels).Set(boolToFloat(s.WaterTankFull))
			c.defrosting.With(labels).Set(boolToFloat(s.Defrosting))
		}
	}

	c.humidity.Collect(ch)
	c.target.Collect(ch)
	c.temperature.Collect(ch)
	c.power.Collect(ch)
	c.online.Collect(ch)
	c.tankFull.Collect(ch)
	c.defrosting.Collect(ch)
	c.lastSuccess.Collect(ch)
}

func boolToFloat(value bool) float64 {
	if value {
		return 1
	}
	return 0
}
