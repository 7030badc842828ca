package web

import (
	"html/template"
	"io"
	"time"

	"github.com/sweeney/gate-timer/internal/logic"
	"github.com/sweeney/gate-timer/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		return d.Round(time.Second).String()
	},
	"elapsed": logic.FormatElapsed,
	"secs": func(l logic.Lap) string {
		return l.Duration.StringFixed(logic.LapPrecision)
	},
	"twoLap": func(l logic.Lap) string {
		if !l.TwoLap.Valid {
			return ""
		}
		return l.TwoLap.Decimal.StringFixed(logic.LapPrecision)
	},
	"threeLap": func(l logic.Lap) string {
		if !l.ThreeLap.Valid {
			return ""
		}
		return l.ThreeLap.Decimal.StringFixed(logic.LapPrecision)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Gate Timer</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 720px; margin: 1.5em auto; padding: 0 1em; color: #222; }
h1 { font-size: 1.3em; margin-bottom: 0.2em; }
h2 { font-size: 1.05em; margin: 1.4em 0 0.3em; color: #555; }
table { border-collapse: collapse; width: 100%; }
th, td { text-align: left; padding: 3px 6px; border-bottom: 1px solid #e4e4e4; font-variant-numeric: tabular-nums; }
#laps th { width: 25%; }
.above { color: #0a7d2c; font-weight: bold; }
.below { color: #888; }
.up { color: #0a7d2c; }
.down { color: #c0392b; }
.timer { font: bold 2.4em monospace; margin: 0.2em 0; }
button { font-size: 1em; padding: 0.4em 1em; margin-right: 0.4em; }
#feed { display: inline-block; width: 0.6em; height: 0.6em; border-radius: 50%; margin-left: 0.5em; background: #e0a000; }
#feed.live { background: #0a7d2c; }
#feed.lost { background: #c0392b; }
</style>
</head>
<body>
<h1>Gate Timer<span id="feed" title="connecting"></span></h1>

<h2>Race</h2>
<p class="timer" id="timer">{{elapsed .Elapsed}}</p>
<table>
<tr><th>State</th><td id="race-state">{{.Race}}</td></tr>
{{if .RaceID}}<tr><th>Race</th><td>{{.RaceID}}</td></tr>{{end}}
</table>
<p>
<button id="start" onclick="post('/api/race/start')"{{if not .CanStart}} disabled{{end}}>Start race</button>
<button id="stop" onclick="post('/api/race/stop')"{{if not .CanStop}} disabled{{end}}>Stop race</button>
<button onclick="post('/api/laps/clear')">Clear laps</button>
</p>

<h2>Laps</h2>
<table id="laps">
<tr><th>Lap</th><td>Time</td><td>2 laps</td><td>3 laps</td></tr>
{{range .Laps}}<tr><th>{{if .Holeshot}}Holeshot{{else}}{{.Index}}{{end}}</th><td>{{secs .}}</td><td>{{twoLap .}}</td><td>{{threeLap .}}</td></tr>
{{end}}</table>
{{if .Summary.Best.Valid}}<p>Best lap {{.Summary.BestAt}}: {{.Summary.Best.Decimal.StringFixed 2}}s, mean {{printf "%.2f" .Summary.Mean}}s, stddev {{printf "%.2f" .Summary.StdDev}}s</p>{{end}}

<h2>Gate</h2>
<table>
<tr><th>Crossing</th><td id="crossing" class="{{if eq (printf "%s" .Crossing) "ABOVE"}}above{{else}}below{{end}}">{{.Crossing}}</td></tr>
<tr><th>Signal</th><td id="level">{{.Level}}</td></tr>
<tr><th>Enter / Exit</th><td>{{.Thresholds.Enter}} / {{.Thresholds.Exit}}</td></tr>
<tr><th>Detection</th><td>{{if .DetectionActive}}on{{else}}off{{end}}</td></tr>
<tr><th>Range</th><td>{{.Bounds.Min}} to {{.Bounds.Max}}</td></tr>
<tr><th>Samples dropped</th><td>{{.SamplesDropped}}</td></tr>
</table>

<h2>Announcer</h2>
<table>
<tr><th>Enabled</th><td>{{if .Announcer.Enabled}}yes{{else}}no{{end}}</td></tr>
<tr><th>Mode</th><td>{{.Announcer.Mode}}</td></tr>
<tr><th>Rate</th><td>{{printf "%.1f" .Announcer.Rate}}</td></tr>
<tr><th>Pilot</th><td>{{.Announcer.Pilot}}</td></tr>
<tr><th>Queued</th><td>{{.Announcer.Queued}}</td></tr>
</table>

<h2>Links</h2>
<table>
<tr><th>Device</th><td class="{{if .DeviceConnected}}up{{else}}down{{end}}">{{if .DeviceConnected}}connected{{else}}disconnected{{end}} ({{.Config.DeviceURL}})</td></tr>
{{if .Battery}}<tr><th>Battery</th><td class="down">{{.Battery.Voltage}}V ({{.Battery.Percentage}}%)</td></tr>{{end}}
<tr><th>Broker link</th><td class="{{if .MQTTConnected}}up{{else}}down{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
</table>

<h2>Daemon</h2>
<table>
<tr><th>Up</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Running since</th><td>{{.StartTime.Format "2006-01-02 15:04:05"}}</td></tr>
<tr><th>Tick</th><td>{{.Config.TickMs}}ms</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> <a href="/metrics">metrics</a></p>
<script>
function post(path) {
  fetch(path, { method: "POST" }).then(function(r) { return r.json(); }).then(function(res) {
    if (!res.success) { alert(res.error); }
  });
}
function connectFeed() {
  var feed = document.getElementById("feed");
  var ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
  ws.onopen = function() { feed.className = "live"; feed.title = "live"; };
  ws.onclose = function() {
    feed.className = "lost";
    feed.title = "reconnecting";
    setTimeout(connectFeed, 2000);
  };
  ws.onmessage = function(e) {
    var s;
    try { s = JSON.parse(e.data).status; } catch (err) { return; }
    document.getElementById("timer").textContent = s.race.elapsed;
    document.getElementById("race-state").textContent = s.race.state;
    document.getElementById("start").disabled = !s.race.can_start;
    document.getElementById("stop").disabled = !s.race.can_stop;
    var c = document.getElementById("crossing");
    c.textContent = s.detector.crossing;
    c.className = s.detector.crossing === "ABOVE" ? "above" : "below";
    document.getElementById("level").textContent = s.detector.level;
  };
}
connectFeed();
</script>
</body>
</html>
`

// page shadows the snapshot's Uptime and Elapsed methods with values.
type page struct {
	status.Snapshot
	Uptime  time.Duration
	Elapsed time.Duration
}

func renderHTML(w io.Writer, snap status.Snapshot) error {
	return indexTmpl.Execute(w, page{snap, snap.Uptime(), snap.Elapsed()})
}
