package dashboard

// Single page, polls /api/telemetry every 500ms.
const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>thermolink ground station</title>
<style>
body { background: #050505; color: #ff3333; font-family: monospace; margin: 2em; }
#status { font-size: 2em; margin-bottom: 0.5em; }
.FIRE { color: #fff; background: #c00; padding: 0 0.3em; }
.NOMINAL { color: #3f3; }
.OFFLINE, .SEARCHING { color: #888; }
canvas { image-rendering: pixelated; width: 640px; height: 480px; border: 1px solid #333; }
</style>
</head>
<body>
<div id="status" class="SEARCHING">WAITING FOR SIGNAL</div>
<div id="info"></div>
<canvas id="heat" width="32" height="24"></canvas>
<div><img src="/qr.png" width="96" height="96" alt="dashboard link"></div>
<script>
const rows = 24, cols = 32;
const ctx = document.getElementById("heat").getContext("2d");
const img = ctx.createImageData(cols, rows);
function color(t, lo, hi) {
  let x = hi > lo ? (t - lo) / (hi - lo) : 0;
  x = Math.max(0, Math.min(1, x));
  return [Math.round(255 * Math.min(1, x * 2)), Math.round(255 * Math.max(0, x * 2 - 1)), Math.round(64 * (1 - x))];
}
async function poll() {
  try {
    const r = await fetch("/api/telemetry", {cache: "no-store"});
    const s = await r.json();
    const el = document.getElementById("status");
    el.className = s.status;
    el.textContent = s.status === "SEARCHING" ? "WAITING FOR SIGNAL" : s.status;
    document.getElementById("info").textContent =
      "link=" + s.link + " addr=" + (s.addr || "-") + " max=" + (s.max === null ? "-" : s.max.toFixed(1)) + "C frames=" + s.frames;
    if (s.data) {
      const vals = s.data.filter(v => v !== null);
      const lo = Math.min(...vals), hi = Math.max(...vals);
      s.data.forEach((v, i) => {
        const c = v === null ? [0, 0, 0] : color(v, lo, hi);
        img.data[i * 4] = c[0]; img.data[i * 4 + 1] = c[1]; img.data[i * 4 + 2] = c[2]; img.data[i * 4 + 3] = 255;
      });
      ctx.putImageData(img, 0, 0);
    }
  } catch (e) {
    document.getElementById("info").textContent = "dashboard offline: " + e;
  }
  setTimeout(poll, 500);
}
poll();
</script>
</body>
</html>
`
