// SPDX-License-Identifier: GPL-3.0-or-later
package gateway

import (
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"

	"github.com/CrawX/go-imap-lookupd/log"
)

const ServiceName = "Mail"

type Args struct{}

type SelectArgs struct {
	Mailbox string
}

type SearchArgs struct {
	Limit int
	Query []string
}

type LookupArgs struct {
	Uid uint32
	Raw bool
}

type FlagArgs struct {
	UidSet string
	Action string
	Flag   string
}

type DeliverArgs struct {
	Text string
}

type ReplyArgs struct {
	Uid uint32
}

type OutboxArgs struct {
	Limit int
}

type HistoryArgs struct {
	Limit int
}

type Reply struct {
	Result   string
	NoUpdate bool
}

// Service exposes a Gateway with net/rpc method signatures.
type Service struct {
	g *Gateway
}

func NewService(g *Gateway) *Service {
	return &Service{g: g}
}

func (s *Service) Open(_ *Args, reply *Reply) error {
	reply.Result = s.g.Open()
	return nil
}

func (s *Service) Close(_ *Args, reply *Reply) error {
	err := s.g.Close()
	if err != nil {
		return err
	}
	reply.Result = "OK"
	return nil
}

func (s *Service) SelectMailbox(args *SelectArgs, reply *Reply) error {
	reply.Result = s.g.SelectMailbox(args.Mailbox)
	return nil
}

func (s *Service) ListMailboxes(_ *Args, reply *Reply) error {
	reply.Result = s.g.ListMailboxes()
	return nil
}

func (s *Service) Search(args *SearchArgs, reply *Reply) error {
	reply.Result = s.g.Search(args.Limit, args.Query...)
	return nil
}

func (s *Service) Update(_ *Args, reply *Reply) error {
	reply.Result, reply.NoUpdate = s.g.Update()
	return nil
}

func (s *Service) Lookup(args *LookupArgs, reply *Reply) error {
	reply.Result = s.g.Lookup(args.Uid, args.Raw)
	return nil
}

func (s *Service) Flag(args *FlagArgs, reply *Reply) error {
	reply.Result = s.g.Flag(args.UidSet, args.Action, args.Flag)
	return nil
}

func (s *Service) Deliver(args *DeliverArgs, reply *Reply) error {
	reply.Result = s.g.Deliver(args.Text)
	return nil
}

func (s *Service) MessageTemplate(_ *Args, reply *Reply) error {
	reply.Result = s.g.MessageTemplate()
	return nil
}

func (s *Service) ReplyTemplate(args *ReplyArgs, reply *Reply) error {
	reply.Result = s.g.ReplyTemplate(args.Uid)
	return nil
}

func (s *Service) Outbox(args *OutboxArgs, reply *Reply) error {
	reply.Result = s.g.Outbox(args.Limit)
	return nil
}

func (s *Service) History(args *HistoryArgs, reply *Reply) error {
	reply.Result = s.g.History(args.Limit)
	return nil
}

// Serve answers JSON-RPC calls on ln, one connection at a time, until ln is
// closed.
func Serve(ln net.Listener, svc *Service) error {
	server := rpc.NewServer()
	err := server.RegisterName(ServiceName, svc)
	if err != nil {
		return fmt.Errorf("could not register service: %w", err)
	}

	l := log.Logger(log.LOG_GATEWAY)
	l.WithField("address", ln.Addr().String()).Info("Listening")

	for {
		conn, err := ln.Accept()
		if errors.Is(err, net.ErrClosed) {
			l.Info("Listener closed")
			return nil
		}
		if err != nil {
			return fmt.Errorf("could not accept connection: %w", err)
		}

		l.WithField("remote", conn.RemoteAddr().String()).Info("Caller connected")
		server.ServeCodec(jsonrpc.NewServerCodec(conn))
		l.WithField("remote", conn.RemoteAddr().String()).Info("Caller disconnected")
	}
}

// Client calls a served Gateway.
type Client struct {
	rpc *rpc.Client
}

func Dial(network, address string) (*Client, error) {
	c, err := jsonrpc.Dial(network, address)
	if err != nil {
		return nil, fmt.Errorf("could not dial %s: %w", address, err)
	}
	return &Client{rpc: c}, nil
}

func (c *Client) Close() error {
	return c.rpc.Close()
}

func (c *Client) call(method string, args interface{}) (*Reply, error) {
	reply := &Reply{}
	err := c.rpc.Call(ServiceName+"."+method, args, reply)
	if err != nil {
		return nil, fmt.Errorf("could not call %s: %w", method, err)
	}
	return reply, nil
}

func (c *Client) result(method string, args interface{}) (string, error) {
	reply, err := c.call(method, args)
	if err != nil {
		return "", err
	}
	return reply.Result, nil
}

func (c *Client) Open() (string, error) {
	return c.result("Open", &Args{})
}

// Shutdown closes the remote gateway, not the client connection.
func (c *Client) Shutdown() error {
	_, err := c.call("Close", &Args{})
	return err
}

func (c *Client) SelectMailbox(name string) (string, error) {
	return c.result("SelectMailbox", &SelectArgs{Mailbox: name})
}

func (c *Client) ListMailboxes() (string, error) {
	return c.result("ListMailboxes", &Args{})
}

func (c *Client) Search(limit int, query ...string) (string, error) {
	return c.result("Search", &SearchArgs{Limit: limit, Query: query})
}

func (c *Client) Update() (string, bool, error) {
	reply, err := c.call("Update", &Args{})
	if err != nil {
		return "", false, err
	}
	return reply.Result, reply.NoUpdate, nil
}

func (c *Client) Lookup(uid uint32, raw bool) (string, error) {
	return c.result("Lookup", &LookupArgs{Uid: uid, Raw: raw})
}

func (c *Client) Flag(uidSet, action, flag string) (string, error) {
	return c.result("Flag", &FlagArgs{UidSet: uidSet, Action: action, Flag: flag})
}

func (c *Client) Deliver(text string) (string, error) {
	return c.result("Deliver", &DeliverArgs{Text: text})
}

func (c *Client) MessageTemplate() (string, error) {
	return c.result("MessageTemplate", &Args{})
}

func (c *Client) ReplyTemplate(uid uint32) (string, error) {
	return c.result("ReplyTemplate", &ReplyArgs{Uid: uid})
}

func (c *Client) Outbox(limit int) (string, error) {
	return c.result("Outbox", &OutboxArgs{Limit: limit})
}

func (c *Client) History(limit int) (string, error) {
	return c.result("History", &HistoryArgs{Limit: limit})
}
