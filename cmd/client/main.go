package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-logr/logr"

	"github.com/vikasavn/packetgate/pkg/config"
	"github.com/vikasavn/packetgate/pkg/logging"
	"github.com/vikasavn/packetgate/pkg/protocol"
)

// Client is a line-mode test client: it logs in, prints everything the
// server sends and forwards stdin lines as packets.
type Client struct {
	conn   net.Conn
	logger logr.Logger
}

func main() {
	configFile := flag.String("config", "", "Path to server config file, used for the client address")
	addr := flag.String("addr", "", "Server address, overrides the config file")
	user := flag.String("user", "N0CALL", "Login username")
	pass := flag.String("pass", protocol.UnverifiedPasscode, "Passcode")
	flag.Parse()

	logger, err := logging.NewLogger(logging.DEFAULT, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "client: %v\n", err)
		os.Exit(1)
	}

	target := *addr
	if target == "" {
		cfg := config.Default()
		if *configFile != "" {
			if cfg, err = config.LoadConfig(*configFile); err != nil {
				logger.Error(err, "Failed to load config")
				os.Exit(1)
			}
		}
		target = fmt.Sprintf("127.0.0.1:%d", cfg.Server.Ports.Client)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := (&net.Dialer{Timeout: 10 * time.Second}).DialContext(ctx, "tcp", target)
	if err != nil {
		logger.Error(err, "Failed to connect", "addr", target)
		os.Exit(1)
	}
	c := &Client{conn: conn, logger: logger.WithValues("addr", target)}
	defer c.conn.Close()

	if err := c.send(fmt.Sprintf("user %s pass %s vers packetgate-client 1.0", *user, *pass)); err != nil {
		logger.Error(err, "Failed to log in")
		os.Exit(1)
	}

	go c.readLoop(stop)
	go c.stdinLoop(stop)
	<-ctx.Done()
}

func (c *Client) send(line string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	_, err := c.conn.Write([]byte(line + "\r\n"))
	return err
}

func (c *Client) readLoop(done func()) {
	defer done()
	scanner := bufio.NewScanner(c.conn)
	for scanner.Scan() {
		fmt.Println(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		c.logger.Error(err, "Connection lost")
		return
	}
	c.logger.Info("Connection closed by server")
}

func (c *Client) stdinLoop(done func()) {
	defer done()
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !protocol.IsComment(line) {
			if _, err := protocol.ParsePacket(line); err != nil {
				c.logger.Info("Not sending malformed packet", "err", err.Error())
				continue
			}
		}
		if err := c.send(line); err != nil {
			c.logger.Error(err, "Failed to send")
			return
		}
	}
}
