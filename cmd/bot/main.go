package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"voxelnet.ai/internal/protocol"
	"voxelnet.ai/internal/sim/encoding"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name     = flag.String("name", "bot", "player name (suffixed with the bot index when -n > 1)")
		password = flag.String("password", "botpass", "password; registered on first login")
		n        = flag.Int("n", 1, "number of bots")
		speed    = flag.Float64("speed", 4, "walk speed in nodes per second")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)

	stop := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		close(stop)
	}()

	var wg sync.WaitGroup
	for i := 0; i < *n; i++ {
		botName := *name
		if *n > 1 {
			botName = fmt.Sprintf("%s%d", *name, i)
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b := &bot{name: botName, password: *password, speed: *speed, log: logger, rng: rand.New(rand.NewSource(time.Now().UnixNano() + int64(i)))}
			if err := b.run(*url, stop); err != nil {
				logger.Printf("%s: %v", botName, err)
			}
		}(i)
	}
	wg.Wait()
}

type bot struct {
	name     string
	password string
	speed    float64
	log      *log.Logger
	rng      *rand.Rand

	conn *websocket.Conn
	wmu  sync.Mutex

	posMu  sync.Mutex
	pos    [3]float64
	yaw    float64
	blocks int
	bytes  int
}

func (b *bot) send(v any) error {
	b.wmu.Lock()
	defer b.wmu.Unlock()
	return b.conn.WriteJSON(v)
}

func (b *bot) run(url string, stop <-chan struct{}) error {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	b.conn = conn
	defer conn.Close()
	go func() {
		<-stop
		_ = conn.Close()
	}()

	if err := b.send(protocol.ClientHelloMsg{
		Type:                    protocol.TypeHello,
		ProtocolVersion:         protocol.Version,
		MinProtocol:             1,
		MaxProtocol:             1,
		MaxSerializationVersion: 2,
		Name:                    b.name,
	}); err != nil {
		return fmt.Errorf("send HELLO: %w", err)
	}

	var serVer uint8
	walking := false
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			b.posMu.Lock()
			b.log.Printf("%s: disconnected after %d blocks (%d bytes): %v", b.name, b.blocks, b.bytes, err)
			b.posMu.Unlock()
			return nil
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeHello:
			var h protocol.ServerHelloMsg
			if err := json.Unmarshal(msg, &h); err != nil {
				return fmt.Errorf("HELLO: %w", err)
			}
			serVer = h.SerializationVersion
			b.log.Printf("%s: HELLO session=%s ser_ver=%d auth=%s", b.name, h.SessionID, h.SerializationVersion, h.AuthMechanism)
			if err := b.send(protocol.AuthMsg{Type: protocol.TypeAuth, Mechanism: h.AuthMechanism, Password: b.password}); err != nil {
				return err
			}

		case protocol.TypeAuthAccept:
			var a protocol.AuthAcceptMsg
			if err := json.Unmarshal(msg, &a); err != nil {
				return fmt.Errorf("AUTH_ACCEPT: %w", err)
			}
			b.posMu.Lock()
			b.pos = a.Spawn
			b.posMu.Unlock()
			if err := b.send(protocol.Init2Msg{Type: protocol.TypeInit2}); err != nil {
				return err
			}

		case protocol.TypeDefinitions:
			if err := b.send(protocol.ClientReadyMsg{
				Type:    protocol.TypeClientReady,
				Version: protocol.VersionInfo{Major: 0, Minor: 1, Patch: 0, String: "voxelnet-bot/0.1"},
			}); err != nil {
				return err
			}
			if !walking {
				walking = true
				go b.walk(stop)
			}

		case protocol.TypeBlock:
			var blk protocol.BlockMsg
			if err := json.Unmarshal(msg, &blk); err != nil {
				continue
			}
			ver := blk.SerializationVersion
			if ver == 0 {
				ver = serVer
			}
			if _, err := encoding.DecodeVersion(blk.Data, ver); err != nil {
				b.log.Printf("%s: bad block %v: %v", b.name, blk.Pos, err)
				continue
			}
			b.posMu.Lock()
			b.blocks++
			b.bytes += len(blk.Data)
			b.posMu.Unlock()
			if err := b.send(protocol.BlockListMsg{Type: protocol.TypeGotBlocks, Blocks: [][3]int{blk.Pos}}); err != nil {
				return err
			}

		case protocol.TypeAccessDenied:
			var d protocol.AccessDeniedMsg
			_ = json.Unmarshal(msg, &d)
			return fmt.Errorf("access denied: %s %s", d.Code, d.Reason)
		}
	}
}

// walk wanders in a straight line, turning now and then, and reports the
// position at 10 Hz.
func (b *bot) walk(stop <-chan struct{}) {
	const dt = 100 * time.Millisecond
	ticker := time.NewTicker(dt)
	defer ticker.Stop()
	b.yaw = b.rng.Float64() * 360
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		if b.rng.Intn(50) == 0 {
			b.yaw = math.Mod(b.yaw+b.rng.Float64()*120-60+360, 360)
		}
		rad := b.yaw * math.Pi / 180
		vel := [3]float64{-math.Sin(rad) * b.speed, 0, math.Cos(rad) * b.speed}

		b.posMu.Lock()
		b.pos[0] += vel[0] * dt.Seconds()
		b.pos[2] += vel[2] * dt.Seconds()
		pos := b.pos
		b.posMu.Unlock()

		if err := b.send(protocol.PlayerPosMsg{
			Type:        protocol.TypePlayerPos,
			Pos:         pos,
			Speed:       vel,
			Yaw:         b.yaw,
			FOV:         72,
			WantedRange: 10,
		}); err != nil {
			return
		}
	}
}
