// Package client is the operator-facing facade over the C12.18/C12.19
// layers: it owns the serial channel, the session engine, the service
// layer, the table cache, and the procedure runner, and exposes the
// minimum surface a caller needs (open/start/login/read/write/procedure/
// close) so it never has to touch the session or service types directly.
// An interactive operator shell would be built on top of this, not
// inside it.
package client

import (
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/samsamfire/goc1218/pkg/cache"
	"github.com/samsamfire/goc1218/pkg/procedure"
	"github.com/samsamfire/goc1218/pkg/serialchannel"
	"github.com/samsamfire/goc1218/pkg/service"
	"github.com/samsamfire/goc1218/pkg/session"
)

// Options configures a Client at construction time. Zero value is not
// meaningful; use DefaultOptions.
type Options struct {
	PacketSize     uint16
	PacketCount    uint8
	Baud           service.BaudCode
	LittleEndian   bool
	ToggleControl  bool
	CacheEnabled   bool
	CacheWhitelist []uint16
}

// DefaultOptions is the standard session bootstrap: 512-byte packets, 2
// packets per negotiated burst, 9600 baud, little-endian C12.19 integers,
// toggle-bit alternation on, cache disabled with the {0,1} whitelist
// ready to go if enabled later.
func DefaultOptions() Options {
	return Options{
		PacketSize:    512,
		PacketCount:   2,
		Baud:          service.Baud9600,
		LittleEndian:  true,
		ToggleControl: true,
		CacheEnabled:  false,
	}
}

// Client is the single entry point a caller opens, drives, and closes.
// It is not safe for concurrent use; one session owns the channel.
type Client struct {
	opts    Options
	channel closeableChannel
	session *session.Session
	svc     *service.Services
	cache   *cache.Cache
	proc    *procedure.Runner
	logger  *log.Entry
}

// Open dials the serial device with the given port settings and returns a
// Client bound to it, in the Closed session state. It does not yet speak
// C12.18; call Start to run Identity/Negotiate.
func Open(device string, portSettings serialchannel.Settings, opts Options) (*Client, error) {
	channel, err := serialchannel.Open(device, portSettings)
	if err != nil {
		return nil, err
	}
	return newClient(channel, opts), nil
}

// New builds a Client over an already-open channel, bypassing
// serialchannel.Open. It exists so tests and alternative transports (a
// fake channel, a pipe) can drive the full client facade without a real
// serial port; production callers should use Open.
func New(channel session.Channel, opts Options) *Client {
	return newClient(channel, opts)
}

func newClient(channel session.Channel, opts Options) *Client {
	sess := session.New(channel)
	sess.SetEndianness(opts.LittleEndian)
	sess.SetToggleControl(opts.ToggleControl)
	closer, _ := channel.(closeableChannel)
	return &Client{
		opts:    opts,
		channel: closer,
		session: sess,
		svc:     service.New(sess),
		cache:   cache.New(opts.CacheEnabled, opts.CacheWhitelist),
		proc:    nil,
		logger:  log.WithField("component", "client"),
	}
}

// closeableChannel is satisfied by *serialchannel.Channel and any test
// double that also wants Close called on Client.Close; channels that don't
// implement it are simply left unclosed (the caller owns their lifetime).
type closeableChannel interface {
	Close() error
}

// Start performs the C12.18 bootstrap sequence: Identity then Negotiate,
// taking the session from Closed to Negotiated.
func (c *Client) Start() (*service.IdentityInfo, error) {
	info, err := c.svc.Identity()
	if err != nil {
		return nil, err
	}
	c.session.MarkIdentified()

	negotiated, err := c.svc.Negotiate(c.opts.PacketSize, c.opts.PacketCount, c.opts.Baud)
	if err != nil {
		return nil, err
	}
	c.session.MarkNegotiated(negotiated.PacketSize, negotiated.PacketCount)
	c.proc = procedure.New(c.svc, c.session.LittleEndian())
	c.logger.Infof("negotiated pktsize=%d nbrpkts=%d", negotiated.PacketSize, negotiated.PacketCount)
	return info, nil
}

// Login issues Logon and, if password is non-empty, Security, taking the
// session to LoggedIn.
func (c *Client) Login(userID uint16, username, password string) error {
	if err := c.svc.Logon(userID, username); err != nil {
		return err
	}
	if password != "" {
		if err := c.svc.Security(password); err != nil {
			return err
		}
	}
	c.session.MarkLoggedIn()
	return nil
}

// GetTable reads tableID in full, consulting and updating the table
// cache.
func (c *Client) GetTable(tableID uint16) ([]byte, error) {
	if data, ok := c.cache.Get(tableID); ok {
		c.logger.Debugf("table %d served from cache", tableID)
		return data, nil
	}
	data, err := c.svc.FullRead(tableID)
	if err != nil {
		return nil, err
	}
	c.cache.Put(tableID, data)
	return data, nil
}

// GetTablePartial reads count bytes of tableID starting at offset. Partial
// reads always bypass the cache; memoization is defined over full-table
// payloads only.
func (c *Client) GetTablePartial(tableID uint16, offset uint32, count uint16) ([]byte, error) {
	return c.svc.PartialRead(tableID, offset, count)
}

// SetTable writes data to tableID in full. Writes bypass the cache and do
// not invalidate it; callers wanting consistency must FlushCache.
func (c *Client) SetTable(tableID uint16, data []byte) error {
	return c.svc.FullWrite(tableID, data)
}

// SetTablePartial writes data to tableID starting at offset.
func (c *Client) SetTablePartial(tableID uint16, offset uint32, data []byte) error {
	return c.svc.PartialWrite(tableID, offset, data)
}

// RunProcedure executes a C12.19 procedure via table 7/8.
func (c *Client) RunProcedure(processNumber uint16, mfg bool, selector uint8, params []byte) (procedure.ResultCode, []byte, error) {
	if c.proc == nil {
		return 0, nil, errors.New("c1218: session not started")
	}
	return c.proc.Run(processNumber, mfg, selector, params)
}

// FlushCache empties every memoized table entry.
func (c *Client) FlushCache() { c.cache.Flush() }

// SetCachePolicy toggles table memoization; disabling flushes.
func (c *Client) SetCachePolicy(enabled bool) { c.cache.SetPolicy(enabled) }

// State returns the session's current lifecycle state.
func (c *Client) State() session.State { return c.session.State() }

// Logoff issues the Logoff service and returns the session to Closed.
func (c *Client) Logoff() error {
	if err := c.svc.Logoff(); err != nil {
		return err
	}
	c.session.MarkClosed()
	return nil
}

// Stop issues Terminate and returns the session to Closed.
func (c *Client) Stop() error {
	if err := c.svc.Terminate(); err != nil {
		return err
	}
	c.session.MarkClosed()
	return nil
}

// Close tears the channel down. If the session is still open (not Closed
// or Terminated), a Terminate is attempted first, but the channel is
// closed regardless of whether it succeeds.
func (c *Client) Close() error {
	if c.session.State() != session.Closed && c.session.State() != session.Terminated {
		if err := c.svc.Terminate(); err != nil {
			c.logger.Warnf("terminate on close failed: %v", err)
		}
		c.session.MarkTerminated()
	}
	if c.channel == nil {
		return nil
	}
	return c.channel.Close()
}
