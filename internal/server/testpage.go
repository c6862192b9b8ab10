package server

import (
	"fmt"
	"net/http"
)

// TestPageHandler serves an HTML page for trying the relay from a browser:
// join a room, send messages and watch presence and typing events.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprint(w, testPageHTML)
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>roomchat test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages { border: 1px solid #ccc; height: 300px; padding: 10px; overflow-y: scroll; margin: 10px 0; background-color: #f9f9f9; }
        input[type="text"] { width: 200px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
        #typing { color: #888; height: 1.2em; }
    </style>
</head>
<body>
    <h1>roomchat test</h1>
    <div>
        <input type="text" id="room" value="geral" placeholder="room">
        <input type="text" id="name" placeholder="your name">
        <button id="connectButton" onclick="toggleConnection()">Join</button>
    </div>
    <div id="status" class="status disconnected">Disconnected</div>
    <div id="presence"></div>
    <div id="messages"></div>
    <div id="typing"></div>
    <div>
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
        <button id="clearButton" onclick="send({type: 'clear'})" disabled>Clear room</button>
    </div>

    <script>
        let ws = null;
        const $ = (id) => document.getElementById(id);
        let identity = localStorage.getItem('roomchat_id');
        if (!identity) {
            identity = crypto.randomUUID();
            localStorage.setItem('roomchat_id', identity);
        }

        function addLine(text, style) {
            const el = document.createElement('div');
            el.style.margin = '3px 0';
            el.style.color = style || 'black';
            el.textContent = text;
            $('messages').appendChild(el);
            $('messages').scrollTop = $('messages').scrollHeight;
        }

        function updateStatus(connected) {
            $('status').textContent = connected ? 'Connected' : 'Disconnected';
            $('status').className = 'status ' + (connected ? 'connected' : 'disconnected');
            $('messageInput').disabled = !connected;
            $('sendButton').disabled = !connected;
            $('clearButton').disabled = !connected;
            $('connectButton').textContent = connected ? 'Leave' : 'Join';
        }

        function connect() {
            const params = new URLSearchParams({ room: $('room').value, id: identity, name: $('name').value });
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws?' + params.toString());
            ws.onopen = () => updateStatus(true);
            ws.onmessage = (event) => handle(JSON.parse(event.data));
            ws.onclose = (event) => {
                addLine('connection closed ' + (event.reason || ''), 'gray');
                updateStatus(false);
                ws = null;
            };
        }

        function handle(ev) {
            switch (ev.type) {
            case 'history':
                $('messages').innerHTML = '';
                ev.messages.forEach((m) => addLine(m.user + ': ' + m.text));
                break;
            case 'message':
                addLine(ev.user + ': ' + ev.text + (ev.image ? ' [image]' : ''));
                break;
            case 'system':
                if (ev.clear) { $('messages').innerHTML = ''; }
                addLine(ev.text, 'gray');
                break;
            case 'presence':
                $('presence').textContent = ev.count + ' online: ' + ev.users.join(', ');
                break;
            case 'typing':
                $('typing').textContent = ev.users.length ? ev.users.join(', ') + ' typing...' : '';
                break;
            case 'error':
                addLine('error: ' + ev.reason, 'red');
                break;
            }
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) { ws.close(); } else { connect(); }
        }

        function send(ev) {
            if (ws && ws.readyState === WebSocket.OPEN) { ws.send(JSON.stringify(ev)); }
        }

        function sendMessage() {
            const text = $('messageInput').value.trim();
            if (text) {
                send({ type: 'message', text: text });
                $('messageInput').value = '';
            }
        }

        $('messageInput').addEventListener('keypress', (e) => {
            if (e.key === 'Enter') { sendMessage(); } else { send({ type: 'typing' }); }
        });
    </script>
</body>
</html>`
