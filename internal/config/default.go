package config

// DefaultConfigYAML is the default server configuration template
const DefaultConfigYAML = `server:
  host: "0.0.0.0"
  port: 8080           # control plane (TCP); video relay listens on port+1 (UDP)
  # public_host: "desk.example.com"

broker:
  write_timeout: 10s
  login_timeout: 30s
  max_frame_size: 16777216
  rate_limit:
    enabled: true
    rate: 2            # login/connect requests per second per IP
    burst: 10

storage:
  enabled: true
  path: "data/sessions.db"

api:
  enabled: true
  bind: "127.0.0.1"
  port: 9000
  cors_origins:
    - "http://localhost:3000"

turn:
  enabled: false
  realm: "arqut-desk"
  public_ip: "127.0.0.1"
  port: 3478
  auth:
    mode: "rest"
    secret: "change-this-secret-in-production"
    ttl_seconds: 86400

logging:
  level: "info"
  format: "text"
`

// DefaultClientConfigYAML is the default client configuration template
const DefaultClientConfigYAML = `server:
  host: "127.0.0.1"
  port: 8080

identity:
  user_id: ""          # generated when empty
  password: ""         # generated when empty

p2p:
  enabled: true
  force_relay: false

video:
  interval: 40ms
  chunk_size: 45000
  max_datagram_size: 60000
  max_frame_size: 8388608  # frames claiming more chunks than this allows are dropped

file:
  chunk_size: 8192
  pacing: 1ms
  download_dir: "downloads"

clipboard:
  enabled: true
  poll_interval: 1s

logging:
  level: "info"
  format: "text"
`
