package webmonitor

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>SpineGuard Monitor</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { margin: 0; background: #0f172a; color: #e2e8f0; font-family: system-ui, sans-serif; }
        .app { max-width: 1100px; margin: 0 auto; padding: 16px; }
        .header { display: flex; justify-content: space-between; align-items: center; }
        .grid { display: grid; grid-template-columns: 2fr 1fr; gap: 16px; margin-top: 12px; }
        .panel { background: #1e293b; border-radius: 10px; padding: 14px; }
        .panel img { width: 100%; border-radius: 6px; background: #0f172a; }
        .stat { display: flex; justify-content: space-between; padding: 4px 0; border-bottom: 1px solid #334155; }
        .stat span:last-child { font-weight: 600; }
        .badge { padding: 4px 10px; border-radius: 999px; background: #334155; }
        .badge.Good, .badge.Healthy { background: #10b981; }
        .badge.Moderate, .badge.Needs { background: #facc15; color: #0f172a; }
        .badge.Poor, .badge.Risky, .badge.Bad { background: #ef4444; }
        button { background: #6366f1; color: white; border: 0; border-radius: 6px; padding: 8px 14px; margin: 4px 4px 4px 0; cursor: pointer; }
        button.secondary { background: #475569; }
        label { display: block; margin-top: 8px; font-size: 0.9em; }
        input[type=range] { width: 100%; }
        input[type=number] { width: 70px; }
        #alert { display: none; margin-top: 10px; padding: 8px; border-radius: 6px; background: #7f1d1d; }
        #error { color: #fca5a5; min-height: 1.2em; }
        video { display: none; }
    </style>
    <script src="https://cdn.jsdelivr.net/npm/@mediapipe/pose@0.5/pose.js" crossorigin="anonymous"></script>
</head>
<body>
<div class="app">
    <div class="header">
        <h1>SpineGuard</h1>
        <span class="badge" id="status-badge">—</span>
    </div>
    <div class="grid">
        <div class="panel">
            <img id="overlay" src="/stream" alt="posture overlay">
            <video id="webcam" playsinline muted></video>
            <div id="alert"></div>
        </div>
        <div class="panel">
            <div class="stat"><span>Angle</span><span id="angle">—</span></div>
            <div class="stat"><span>FPS</span><span id="fps">—</span></div>
            <div class="stat"><span>Advice</span><span id="advice">—</span></div>
            <div class="stat"><span>Timer</span><span id="timer">—</span></div>
            <div class="stat"><span>Readout</span><span id="transport">SSE</span></div>
            <div>
                <button id="btn-start">Start</button>
                <button id="btn-stop" class="secondary">Stop</button>
                <button id="btn-calibrate" class="secondary">Calibrate</button>
                <button id="btn-webrtc" class="secondary">Use WebRTC</button>
            </div>
            <div id="error"></div>
            <h3>Overlay</h3>
            <label>Line width <span id="lw-val"></span><input type="range" id="line_width" min="1" max="12"></label>
            <label>Glow <span id="glow-val"></span><input type="range" id="glow" min="0" max="40"></label>
            <label>Trail length <span id="trail-val"></span><input type="range" id="trail_length" min="1" max="30"></label>
            <h3>Thresholds</h3>
            <label>Preset <select id="preset"></select></label>
            <label>Low <input type="number" id="low" step="0.5"> High <input type="number" id="high" step="0.5"></label>
            <button id="btn-apply" class="secondary">Apply</button>
        </div>
    </div>
</div>
<script>
const $ = (id) => document.getElementById(id);
let rtcActive = false;
let browserPose = false;
let pose = null;
let tracking = false;
let lastResults = null;
let sessionSeen = false;

function showError(msg) { $('error').textContent = msg || ''; }

async function post(path, body) {
    const res = await fetch(path, {
        method: 'POST',
        headers: { 'Content-Type': 'application/json' },
        body: body ? JSON.stringify(body) : undefined,
    });
    const data = await res.json().catch(() => ({}));
    if (!res.ok) throw new Error(data.error || res.statusText);
    return data;
}

function applyDisplay(d) {
    $('status-badge').textContent = d.status;
    $('status-badge').className = 'badge ' + String(d.status).split(' ')[0];
    $('angle').textContent = d.angle;
    $('fps').textContent = d.fps;
    $('advice').textContent = d.advice;
    $('timer').textContent = d.timer;
}

function applyReading(r) {
    $('status-badge').textContent = r.person ? r.label : '—';
    $('status-badge').className = 'badge ' + (r.label || '').split(' ')[0];
    $('angle').textContent = r.person ? r.angle_degrees.toFixed(1) + '°' : '—';
    $('fps').textContent = r.fps;
    $('advice').textContent = r.advice;
    $('timer').textContent = r.timer;
}

function handleEvent(ev) {
    if (ev.type === 'reading') applyReading(ev.data);
    if (ev.type === 'alert') {
        $('alert').style.display = 'block';
        $('alert').textContent = ev.data.advice + ' (' + ev.data.angle_degrees.toFixed(1) + '°)';
        setTimeout(() => { $('alert').style.display = 'none'; }, 4000);
    }
    if (ev.type === 'reminder') $('timer').textContent += ' • Time to stretch!';
}

const events = new EventSource('/api/posture/stream');
events.onmessage = (msg) => { if (!rtcActive) handleEvent(JSON.parse(msg.data)); };

const status = new EventSource('/api/status/stream');
status.onmessage = (msg) => {
    const s = JSON.parse(msg.data);
    if (s.session.state.running) { sessionSeen = true; return; }
    // the session ended on the server side, e.g. Stop from another tab
    if (tracking && sessionSeen) stopWebcam();
    sessionSeen = false;
    applyDisplay(s.session.display);
};

async function loadConfig() {
    const res = await fetch('/api/config');
    const c = await res.json();
    $('line_width').value = c.render.line_width; $('lw-val').textContent = c.render.line_width;
    $('glow').value = c.render.glow; $('glow-val').textContent = c.render.glow;
    $('trail_length').value = c.render.trail_length; $('trail-val').textContent = c.render.trail_length;
    $('low').value = c.thresholds.low; $('high').value = c.thresholds.high;
    browserPose = !!c.browser_pose;
    $('preset').innerHTML = c.presets.map((p) => '<option' + (p === c.preset ? ' selected' : '') + '>' + p + '</option>').join('');
}

for (const [id, out] of [['line_width', 'lw-val'], ['glow', 'glow-val'], ['trail_length', 'trail-val']]) {
    $(id).addEventListener('input', async () => {
        $(out).textContent = $(id).value;
        try { await post('/api/config', { [id]: Number($(id).value) }); showError(); } catch (e) { showError(e.message); }
    });
}

$('preset').addEventListener('change', async () => {
    try { await post('/api/config', { preset: $('preset').value }); await loadConfig(); showError(); } catch (e) { showError(e.message); }
});
$('btn-apply').onclick = async () => {
    try { await post('/api/config', { thresholds: { low: Number($('low').value), high: Number($('high').value) } }); showError(); } catch (e) { showError(e.message); }
};
function setupPose() {
    if (pose || typeof Pose === 'undefined') return pose;
    pose = new Pose({ locateFile: (file) => 'https://cdn.jsdelivr.net/npm/@mediapipe/pose@0.5/' + file });
    pose.setOptions({ modelComplexity: 1, smoothLandmarks: true, minDetectionConfidence: 0.5, minTrackingConfidence: 0.5 });
    pose.onResults((results) => { lastResults = results; });
    return pose;
}

async function startWebcam() {
    if (!setupPose()) throw new Error('pose model failed to load');
    const video = $('webcam');
    video.srcObject = await navigator.mediaDevices.getUserMedia({ video: { width: 1280, height: 720, facingMode: 'user' }, audio: false });
    await video.play();
}

function stopWebcam() {
    tracking = false;
    const video = $('webcam');
    (video.srcObject ? video.srcObject.getTracks() : []).forEach((t) => t.stop());
    video.srcObject = null;
}

// One frame in flight: the next frame goes to the model only after the
// server has taken the previous landmarks.
async function trackLoop() {
    const video = $('webcam');
    while (tracking) {
        lastResults = null;
        await pose.send({ image: video });
        const lms = lastResults && lastResults.poseLandmarks;
        try {
            await post('/api/landmarks', {
                timestamp_ms: Date.now(),
                width: video.videoWidth,
                height: video.videoHeight,
                landmarks: lms ? lms.map((p) => ({ x: p.x, y: p.y, z: p.z, visibility: p.visibility })) : null,
            });
        } catch (e) {
            showError(e.message);
            stopWebcam();
        }
    }
}

$('btn-start').onclick = async () => {
    if (browserPose && !tracking) {
        try { await startWebcam(); } catch (e) { showError('Cannot access webcam: ' + e.message); stopWebcam(); return; }
    }
    try {
        await post('/api/session/start');
        $('overlay').src = '/stream?t=' + Date.now();
        showError();
    } catch (e) { showError(e.message); stopWebcam(); return; }
    if (browserPose && !tracking) { tracking = true; trackLoop(); }
};
$('btn-stop').onclick = async () => {
    stopWebcam();
    try { const s = await post('/api/session/stop'); applyDisplay(s.display); showError(); } catch (e) { showError(e.message); }
};
$('btn-calibrate').onclick = async () => {
    try { const r = await post('/api/session/calibrate'); showError('Calibrated at ' + r.ideal_angle.toFixed(1) + '°'); } catch (e) { showError(e.message); }
};

$('btn-webrtc').onclick = async () => {
    const pc = new RTCPeerConnection({ iceServers: [{ urls: 'stun:stun.l.google.com:19302' }] });
    const dc = pc.createDataChannel('posture');
    dc.onopen = () => { rtcActive = true; $('transport').textContent = 'WebRTC'; };
    dc.onclose = () => { rtcActive = false; $('transport').textContent = 'SSE'; };
    dc.onmessage = (msg) => handleEvent(JSON.parse(msg.data));
    await pc.setLocalDescription(await pc.createOffer());
    await new Promise((resolve) => {
        if (pc.iceGatheringState === 'complete') return resolve();
        pc.onicegatheringstatechange = () => { if (pc.iceGatheringState === 'complete') resolve(); };
    });
    try {
        const answer = await post('/api/webrtc/offer', pc.localDescription);
        await pc.setRemoteDescription(answer);
    } catch (e) { showError(e.message); pc.close(); }
};

loadConfig();
</script>
</body>
</html>
`
