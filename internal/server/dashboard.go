package server

import "html/template"

// dashboardTemplate is a single page that talks to the JSON API with the
// token kept in localStorage.
var dashboardTemplate = template.Must(template.New("dashboard").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>brokerdash</title>
<style>
body { font-family: system-ui, sans-serif; margin: 2rem; color: #222; }
table { border-collapse: collapse; margin-top: 1rem; }
th, td { padding: .3rem .8rem; border-bottom: 1px solid #ddd; text-align: right; }
th:first-child, td:first-child { text-align: left; }
.gain { color: #1a7f37; } .loss { color: #cf222e; }
#login, #main { display: none; }
</style>
</head>
<body>
<h1>brokerdash <small>{{.Version}} · {{.Provider}}</small></h1>

<form id="login">
  <input id="email" type="email" placeholder="email" required>
  <input id="password" type="password" placeholder="password" required>
  <button>Log in</button>
</form>

<div id="main">
  <button id="sync">Sync</button>
  <button id="refresh">Refresh prices</button>
  <button id="logout">Log out</button>
  <p id="totals"></p>
  <table>
    <thead><tr><th>Symbol</th><th>Qty</th><th>Avg</th><th>LTP</th><th>Value</th><th>P&amp;L</th><th>%</th></tr></thead>
    <tbody id="holdings"></tbody>
  </table>
  <h3>Top movers</h3>
  <p id="movers"></p>
</div>
<p id="status"></p>

<script>
const $ = id => document.getElementById(id);
const inr = n => Number(n).toLocaleString('en-IN', {maximumFractionDigits: 2});
async function api(method, path, body) {
  const res = await fetch(path, {
    method,
    headers: {'Content-Type': 'application/json', 'Authorization': 'Bearer ' + (localStorage.getItem('token') || '')},
    body: body ? JSON.stringify(body) : undefined,
  });
  const json = await res.json();
  if (res.status === 401) { localStorage.removeItem('token'); show(); }
  if (!json.success) throw new Error(json.message);
  return json.data;
}
function cls(v) { return v >= 0 ? 'gain' : 'loss'; }
async function load() {
  const s = await api('GET', '/api/portfolio/summary');
  const p = s.portfolio;
  $('totals').innerHTML = 'Invested ₹' + inr(p.total_invested_value) + ' · Current ₹' + inr(p.total_current_value) +
    ' · <span class="' + cls(p.total_pnl) + '">P&amp;L ₹' + inr(p.total_pnl) + ' (' + p.total_pnl_percentage.toFixed(2) + '%)</span>' +
    ' · ' + p.sync_status + (p.sync_message ? ': ' + p.sync_message : '');
  $('holdings').innerHTML = p.holdings.map(h => '<tr><td>' + h.symbol + '</td><td>' + h.quantity + '</td><td>' + inr(h.average_price) +
    '</td><td>' + inr(h.current_price) + '</td><td>' + inr(h.current_value) + '</td><td class="' + cls(h.pnl) + '">' + inr(h.pnl) +
    '</td><td class="' + cls(h.pnl) + '">' + h.pnl_percent.toFixed(2) + '</td></tr>').join('');
  const m = s.movers;
  $('movers').textContent = 'Gainers: ' + (m.top_gainers || []).map(h => h.symbol).join(', ') +
    ' | Losers: ' + (m.top_losers || []).map(h => h.symbol).join(', ');
}
async function run(fn) {
  $('status').textContent = '';
  try { await fn(); await load(); } catch (e) { $('status').textContent = e.message; }
}
function show() {
  const authed = !!localStorage.getItem('token');
  $('login').style.display = authed ? 'none' : 'block';
  $('main').style.display = authed ? 'block' : 'none';
  if (authed) run(async () => {});
}
$('login').onsubmit = e => { e.preventDefault(); run(async () => {
  const d = await api('POST', '/api/auth/login', {email: $('email').value, password: $('password').value});
  localStorage.setItem('token', d.token); show();
}); };
$('sync').onclick = () => run(() => api('POST', '/api/portfolio/sync'));
$('refresh').onclick = () => run(() => api('POST', '/api/portfolio/refresh-prices'));
$('logout').onclick = () => { localStorage.removeItem('token'); show(); };
show();
</script>
</body>
</html>
`))
