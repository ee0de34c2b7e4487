package httpapi

import (
	"fmt"
	"net/http"
)

const dashboardHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>TaskHub Control Surface</title>
  <style>
    :root {
      --ink: #17212b;
      --paper: #f5f6fa;
      --card: #ffffff;
      --line: #d9dde6;
      --accent: #5f55ee;
      --accent-2: #27ae60;
      --danger: #e14f62;
      --muted: #6f7a8a;
      --shadow: 0 14px 30px rgba(23, 33, 43, 0.12);
    }

    * { box-sizing: border-box; }

    body {
      margin: 0;
      font-family: "Avenir Next", "Segoe UI", sans-serif;
      color: var(--ink);
      background:
        radial-gradient(900px 420px at -5% -10%, rgba(95, 85, 238, 0.14), transparent 60%),
        radial-gradient(800px 420px at 110% -10%, rgba(39, 174, 96, 0.14), transparent 65%),
        var(--paper);
      min-height: 100vh;
      padding: 20px;
    }

    header {
      display: flex;
      justify-content: space-between;
      align-items: center;
      gap: 16px;
      flex-wrap: wrap;
      margin-bottom: 18px;
    }

    h1 { margin: 0; font-size: 24px; letter-spacing: 0.3px; }
    .sub { color: var(--muted); font-size: 13px; margin-top: 4px; }

    .controls { display: flex; gap: 8px; flex-wrap: wrap; align-items: center; }
    .controls input {
      border: 1px solid var(--line);
      border-radius: 8px;
      padding: 8px 10px;
      font-size: 13px;
      min-width: 240px;
      background: var(--card);
    }
    .controls button {
      border: 0;
      border-radius: 8px;
      padding: 9px 14px;
      font-size: 13px;
      font-weight: 600;
      cursor: pointer;
      color: #fff;
      background: var(--accent);
    }
    .controls button.secondary { background: var(--muted); }

    .status { font-size: 13px; padding: 6px 10px; border-radius: 999px; background: var(--card); border: 1px solid var(--line); }
    .status.ok { color: var(--accent-2); }
    .status.warn { color: #b07b29; }
    .status.err { color: var(--danger); }

    .grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(300px, 1fr)); gap: 14px; }

    .card {
      background: var(--card);
      border: 1px solid var(--line);
      border-radius: 12px;
      padding: 14px 16px;
      box-shadow: var(--shadow);
    }
    .card h2 { margin: 0 0 10px; font-size: 15px; }

    table { width: 100%; border-collapse: collapse; font-size: 13px; }
    th, td { text-align: left; padding: 6px 8px; border-bottom: 1px solid var(--line); }
    th { color: var(--muted); font-weight: 600; }
    td.num { text-align: right; font-variant-numeric: tabular-nums; }

    .pill { display: inline-block; padding: 2px 8px; border-radius: 999px; font-size: 11px; font-weight: 600; background: rgba(95, 85, 238, 0.12); color: var(--accent); }
    .pill.done { background: rgba(39, 174, 96, 0.14); color: var(--accent-2); }
    .pill.urgent { background: rgba(225, 79, 98, 0.14); color: var(--danger); }

    .kv { display: grid; grid-template-columns: auto 1fr; gap: 4px 12px; font-size: 13px; }
    .kv dt { color: var(--muted); }
    .kv dd { margin: 0; font-variant-numeric: tabular-nums; }

    footer { margin-top: 16px; color: var(--muted); font-size: 12px; }
  </style>
</head>
<body>
  <header>
    <div>
      <h1>TaskHub Control Surface</h1>
      <div class="sub">api base: <span id="api-base"></span> &middot; last refresh: <span id="last-updated">never</span></div>
    </div>
    <div class="controls">
      <input id="token" type="password" placeholder="bearer token" autocomplete="off" />
      <button id="refresh">Refresh</button>
      <button id="toggle" class="secondary">Pause Auto</button>
      <span id="status" class="status">idle</span>
    </div>
  </header>

  <div class="grid">
    <div class="card">
      <h2>Backend</h2>
      <dl class="kv" id="backend-kv"></dl>
    </div>
    <div class="card">
      <h2>Spaces</h2>
      <table>
        <thead><tr><th>Name</th><th>Shared</th><th class="num">Tasks</th></tr></thead>
        <tbody id="spaces-body"></tbody>
      </table>
    </div>
    <div class="card" style="grid-column: 1 / -1;">
      <h2>Tasks</h2>
      <table>
        <thead><tr><th>Name</th><th>Status</th><th>Priority</th><th>Assignee</th><th>Due</th></tr></thead>
        <tbody id="tasks-body"></tbody>
      </table>
    </div>
  </div>

  <footer>read-only view over /v1/backend/status, /v1/spaces and /v1/tasks; auto refresh every 5s</footer>

  <script>
    (function () {
      const dom = {
        token: document.getElementById("token"),
        refresh: document.getElementById("refresh"),
        toggle: document.getElementById("toggle"),
        status: document.getElementById("status"),
        apiBase: document.getElementById("api-base"),
        lastUpdated: document.getElementById("last-updated"),
        backendKv: document.getElementById("backend-kv"),
        spacesBody: document.getElementById("spaces-body"),
        tasksBody: document.getElementById("tasks-body"),
      };
      const store = { paused: false, timer: null, intervalMs: 5000 };

      function getBase() { return window.location.origin; }
      function getToken() { return dom.token.value.trim(); }

      function setStatus(text, kind) {
        dom.status.textContent = text;
        dom.status.className = "status" + (kind ? " " + kind : "");
      }

      function esc(value) {
        const div = document.createElement("div");
        div.textContent = String(value == null ? "" : value);
        return div.innerHTML;
      }

      async function apiGet(path) {
        const resp = await fetch(getBase() + path, {
          headers: { "Authorization": "Bearer " + getToken() },
        });
        const body = await resp.json().catch(() => ({}));
        if (!resp.ok) {
          throw new Error(body.message || ("http " + resp.status));
        }
        return body;
      }

      function renderBackend(status) {
        const rows = [
          ["state backend", status.stateBackend],
          ["schema version", status.schemaVersion],
          ["outbox depth", status.outboxDepth + " / " + status.outboxCapacity],
          ["tasks", status.taskCount],
          ["spaces", status.spaceCount],
          ["timer running", status.timerRunning ? "yes" : "no"],
        ];
        dom.backendKv.innerHTML = rows.map((row) =>
          "<dt>" + esc(row[0]) + "</dt><dd>" + esc(row[1]) + "</dd>").join("");
      }

      function renderSpaces(spaces) {
        dom.spacesBody.innerHTML = (spaces || []).map((sp) =>
          "<tr><td>" + esc(sp.name) + "</td><td>" + (sp.isShared ? "yes" : "") +
          "</td><td class=\"num\">" + esc(sp.taskCount) + "</td></tr>").join("");
      }

      function pillClass(task) {
        if (task.priority === "urgent") { return "pill urgent"; }
        if (/done|complete|closed/i.test(String(task.status || ""))) { return "pill done"; }
        return "pill";
      }

      function renderTasks(tasks) {
        dom.tasksBody.innerHTML = (tasks || []).slice(0, 50).map((task) =>
          "<tr><td>" + esc(task.name) +
          "</td><td><span class=\"" + pillClass(task) + "\">" + esc(task.status) + "</span>" +
          "</td><td>" + esc(task.priority) +
          "</td><td>" + esc(task.assignee) +
          "</td><td>" + esc(task.dueDate ? String(task.dueDate).slice(0, 10) : "") +
          "</td></tr>").join("");
      }

      async function refresh() {
        if (!getToken()) {
          setStatus("enter token to start", "warn");
          return;
        }
        try {
          setStatus("loading...");
          const partialErrors = [];
          const results = await Promise.allSettled([
            apiGet("/v1/backend/status"),
            apiGet("/v1/spaces"),
            apiGet("/v1/tasks"),
          ]);
          if (results[0].status === "fulfilled") { renderBackend(results[0].value); } else { partialErrors.push(String(results[0].reason)); }
          if (results[1].status === "fulfilled") { renderSpaces(results[1].value); } else { partialErrors.push(String(results[1].reason)); }
          if (results[2].status === "fulfilled") { renderTasks(results[2].value); } else { partialErrors.push(String(results[2].reason)); }

          dom.lastUpdated.textContent = new Date().toLocaleTimeString();
          if (partialErrors.length > 0) {
            setStatus("partial: " + partialErrors[0], "warn");
          } else {
            setStatus("ok", "ok");
          }
          window.localStorage.setItem("taskhub_dashboard_token", getToken());
        } catch (err) {
          setStatus(String(err && err.message ? err.message : err), "err");
        }
      }

      function ensureTimer() {
        if (store.timer) {
          clearInterval(store.timer);
          store.timer = null;
        }
        if (!store.paused) {
          store.timer = setInterval(refresh, store.intervalMs);
        }
      }

      dom.refresh.addEventListener("click", refresh);
      dom.toggle.addEventListener("click", function () {
        store.paused = !store.paused;
        dom.toggle.textContent = store.paused ? "Resume Auto" : "Pause Auto";
        ensureTimer();
      });
      dom.token.addEventListener("change", refresh);

      dom.token.value = window.localStorage.getItem("taskhub_dashboard_token") || "";
      dom.apiBase.textContent = getBase();

      ensureTimer();
      if (dom.token.value) {
        refresh();
      } else {
        setStatus("enter token to start", "warn");
      }
    })();
  </script>
</body>
</html>`

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprint(w, dashboardHTML)
}
