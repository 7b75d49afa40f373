// Package cdp mirrors a live Chrome page into a dom.Document.
//
// Structure comes from the CDP DOM domain (DOM.getDocument with full depth,
// then childNodeInserted/Removed, attribute and character data events).
// What the DOM domain does not report (user events, form values, scroll
// offsets, CSSOM edits, errors) comes from an injected capture script
// calling a Runtime binding. Both streams are read by one goroutine, in
// wire order, and applied on the recording goroutine through exec.
package cdp

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/horosreplay/replay/dom"
)

// captureJS is a function expression: Eval calls it, new documents run it
// through an immediate call.
//
//go:embed capture.js
var captureJS string

const bindingName = "__replay_binding"

// Options configure a Bridge.
type Options struct {
	// OnError receives errors reported by the page. It runs through exec.
	OnError func(stack string)
	// OnNavigate runs through exec after the document was replaced by a
	// navigation.
	OnNavigate func(url string)
	Logger     *slog.Logger
}

// Bridge keeps a dom.Document in step with a page.
type Bridge struct {
	page   *rod.Page
	exec   func(func())
	opts   Options
	logger *slog.Logger
	mirror *mirror

	ctx    context.Context
	cancel context.CancelFunc
	ready  chan struct{}
	once   sync.Once
	done   chan struct{}
}

// Attach mirrors page into doc, replacing its content. exec must run its
// argument on the goroutine that owns doc, in call order, and may block
// until it has run; Attach must not be called from that goroutine.
func Attach(ctx context.Context, page *rod.Page, doc *dom.Document, exec func(func()), opts Options) (*Bridge, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	b := &Bridge{
		page:   page,
		exec:   exec,
		opts:   opts,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
		mirror: newMirror(doc),
	}
	if err := b.init(); err != nil {
		cancel()
		return nil, err
	}
	return b, nil
}

func (b *Bridge) init() error {
	p := b.page.Context(b.ctx)
	if err := (proto.DOMEnable{}).Call(p); err != nil {
		return fmt.Errorf("cdp: DOM.enable: %w", err)
	}
	root, err := b.document()
	if err != nil {
		return err
	}
	var url string
	var nodes int
	b.exec(func() {
		b.mirror.load(root)
		url, nodes = b.mirror.doc.URL, len(b.mirror.nodes)
	})
	b.logger.Info("cdp: document mirrored", "url", url, "nodes", nodes)

	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(p); err != nil {
		b.logger.Warn("cdp: addBinding failed (may already exist)", "error", err)
	}
	go b.listen()

	if _, err := p.EvalOnNewDocument("(" + captureJS + ")()"); err != nil {
		return fmt.Errorf("cdp: install capture script: %w", err)
	}
	if _, err := p.Eval(captureJS); err != nil {
		return fmt.Errorf("cdp: inject capture script: %w", err)
	}
	return nil
}

// document fetches the whole tree, shadow roots included.
func (b *Bridge) document() (*proto.DOMNode, error) {
	depth := -1
	res, err := proto.DOMGetDocument{Depth: &depth, Pierce: true}.Call(b.page.Context(b.ctx))
	if err != nil {
		return nil, fmt.Errorf("cdp: DOM.getDocument: %w", err)
	}
	return res.Root, nil
}

// Ready is closed once the capture script reported the initial state of
// the page (form values, loaded style sheets, window geometry).
func (b *Bridge) Ready() <-chan struct{} { return b.ready }

// Close stops mirroring. The document keeps its last state.
func (b *Bridge) Close() {
	b.cancel()
	<-b.done
}

func (b *Bridge) listen() {
	defer close(b.done)
	b.page.Context(b.ctx).EachEvent(
		func(e *proto.DOMChildNodeInserted) {
			b.apply("insert", func() error { return b.mirror.inserted(e) })
			if e.Node.NodeType == 1 && len(e.Node.Children) == 0 {
				go b.requestChildren(e.Node.NodeID)
			}
		},
		func(e *proto.DOMChildNodeRemoved) {
			b.apply("remove", func() error { return b.mirror.removed(e) })
		},
		func(e *proto.DOMSetChildNodes) {
			b.apply("children", func() error { return b.mirror.setChildren(e) })
		},
		func(e *proto.DOMAttributeModified) {
			v := e.Value
			b.apply("attribute", func() error { return b.mirror.attribute(e.NodeID, e.Name, &v) })
		},
		func(e *proto.DOMAttributeRemoved) {
			b.apply("attribute", func() error { return b.mirror.attribute(e.NodeID, e.Name, nil) })
		},
		func(e *proto.DOMCharacterDataModified) {
			b.apply("text", func() error { return b.mirror.characterData(e) })
		},
		func(e *proto.DOMShadowRootPushed) {
			b.apply("shadow", func() error { return b.mirror.shadowPushed(e) })
		},
		func(e *proto.DOMShadowRootPopped) {
			b.apply("shadow", func() error { return b.mirror.shadowPopped(e) })
		},
		func(e *proto.DOMDocumentUpdated) {
			go b.reload()
		},
		func(e *proto.RuntimeBindingCalled) {
			if e.Name != bindingName {
				return
			}
			b.capture(e.Payload)
		},
	)()
}

func (b *Bridge) apply(op string, fn func() error) {
	b.exec(func() {
		if err := fn(); err != nil {
			b.logger.Debug("cdp: mutation not mirrored", "op", op, "error", err)
		}
	})
}

func (b *Bridge) capture(payload string) {
	msgs, err := parseMessages(payload)
	if err != nil {
		b.logger.Warn("cdp: parse capture payload", "error", err)
		return
	}
	h := handlers{
		onError: b.opts.OnError,
		onReady: func() { b.once.Do(func() { close(b.ready) }) },
	}
	b.exec(func() {
		for _, msg := range msgs {
			if err := b.mirror.apply(msg, h); err != nil {
				b.logger.Debug("cdp: capture message dropped", "kind", msg.Kind, "error", err)
			}
		}
	})
}

// requestChildren asks for the subtree of a node reported without its
// children. The answer arrives as DOM.setChildNodes.
func (b *Bridge) requestChildren(id proto.DOMNodeID) {
	depth := -1
	err := proto.DOMRequestChildNodes{NodeID: id, Depth: &depth, Pierce: true}.Call(b.page.Context(b.ctx))
	if err != nil && b.ctx.Err() == nil {
		b.logger.Debug("cdp: requestChildNodes failed", "node", id, "error", err)
	}
}

// reload rebuilds the mirror after the page replaced its document.
func (b *Bridge) reload() {
	root, err := b.document()
	if err != nil {
		if b.ctx.Err() == nil {
			b.logger.Error("cdp: reload document", "error", err)
		}
		return
	}
	b.exec(func() {
		b.mirror.load(root)
		b.logger.Info("cdp: document replaced", "url", b.mirror.doc.URL)
		if b.opts.OnNavigate != nil {
			b.opts.OnNavigate(b.mirror.doc.URL)
		}
	})
}
