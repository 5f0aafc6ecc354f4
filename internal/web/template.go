package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/volume-knob/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"ms": func(d time.Duration) int64 { return d.Milliseconds() },
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Volume Knob</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.volume { font-size: 2em; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
.err { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; background: orange; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
</style>
</head>
<body>
<h1>Volume Knob<span id="live-dot" class="live-dot" title="connecting"></span></h1>

<h2>Volume</h2>
<table>
<tr><th>Level</th><td id="volume" class="volume">{{.Volume}}%</td></tr>
<tr><th>Range</th><td>{{.Min}} to {{.Max}}</td></tr>
<tr><th>Encoder</th><td id="sleep">{{if .Asleep}}asleep{{else}}active{{end}}</td></tr>
<tr><th>Steps</th><td>{{.Counts.Up}} up, {{.Counts.Down}} down, {{.Counts.Clamped}} at a bound</td></tr>
<tr><th>Wakes</th><td>{{.Counts.Wakes}}</td></tr>
</table>

<h2>Outputs</h2>
<table>
<tr><th>Sink</th><th>Last</th><th>Applied / limited / failed</th></tr>
{{range .Sinks}}<tr><td>{{.Name}} ({{ms .Interval}}ms)</td><td>{{if .Synced}}{{.Last}}{{else}}unknown{{end}}{{if .Pending}}*{{end}}</td><td>{{.Stats.Applied}} / {{.Stats.RateLimited}} / {{.Stats.Failed}}{{if .Stats.LastError}} <span class="err">{{.Stats.LastError}}</span>{{end}}</td></tr>
{{end}}</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .Config.Broker}}{{if .MQTTConnected}}connected{{else}}disconnected{{end}}{{else}}disabled{{end}}</td></tr>
{{if .Config.Broker}}<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>{{end}}
{{with .Network}}<tr><th>Network</th><td>{{.Type}} {{.Status}}</td></tr>
<tr><th>IP</th><td>{{.IP}}</td></tr>
{{if .SSID}}<tr><th>SSID</th><td>{{.SSID}}</td></tr>{{end}}{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Pins</th><td>CLK {{.Config.ClkPin}}, DT {{.Config.DtPin}}</td></tr>
<tr><th>Mixer control</th><td>{{.Config.Device}}</td></tr>
<tr><th>Startup ceiling</th><td>{{.Config.StartupVolume}}%</td></tr>
<tr><th>Debounce</th><td>{{.Config.DebounceUs}}us</td></tr>
<tr><th>Sleep after</th><td>{{.Config.SleepMs}}ms</td></tr>
<tr><th>Channel</th><td>{{.Channel.Sent}} sent, {{.Channel.Superseded}} superseded</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  var vol = document.getElementById("volume");
  var sleep = document.getElementById("sleep");
  var proto = location.protocol === "https:" ? "wss://" : "ws://";

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function connect() {
    var ws = new WebSocket(proto + location.host + "/ws");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() {
      setDot("err", "offline");
      setTimeout(connect, 5000);
    };
    ws.onmessage = function(ev) {
      try {
        var msg = JSON.parse(ev.data);
        if (msg.type === "state_init" || msg.type === "volume_changed") {
          vol.textContent = msg.data.volume + "%";
        }
        if (msg.type === "state_init" || msg.type === "sleep_changed") {
          sleep.textContent = msg.data.asleep ? "asleep" : "active";
        }
      } catch (e) {}
    };
  }
  connect();
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// The template needs Uptime as a field, not a method.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
