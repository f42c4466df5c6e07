// Copyright 2025 The Gantry Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package httpengine

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/gantry-run/gantry/ambient"
	"github.com/gantry-run/gantry/handler"
	"github.com/gantry-run/gantry/manifest"
)

var noopLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// run executes the bounded pipeline: scope open, onRequest, authenticate,
// handler, coercion, onResponse. It always produces a response, recovers
// panics from user code, and guarantees onError fires at most once.
func (e *Engine) run(ctx context.Context, req *handler.Request, route *manifest.Route, method string, logger *slog.Logger) (resp *handler.Response) {
	chain := route.Chain

	reported := false
	report := func(ctx context.Context, err error) {
		if reported {
			return
		}
		reported = true
		logger.Error("request failed",
			"method", method,
			"route", route.Path,
			"error", err,
		)
		if chain.OnError == nil {
			return
		}
		if hookErr := callHook(func() error { return chain.OnError(ctx, err, req) }); hookErr != nil {
			logger.Error("onError hook failed", "route", route.Path, "error", hookErr)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			logger.Error("request panicked",
				"method", method,
				"route", route.Path,
				"error", err,
				"stack", string(debug.Stack()),
			)
			report(ctx, err)
			resp = plainStatus(http.StatusInternalServerError)
		}
	}()

	scope := ambient.NewScope(
		ambient.WithOps(e.ops),
		ambient.WithURLs(e.urls, e.services),
		ambient.WithLogger(logger),
	)
	sctx, err := ambient.NewContext(ctx, scope)
	if err != nil {
		report(ctx, err)
		return plainStatus(http.StatusInternalServerError)
	}
	ctx = sctx

	// onRequest runs before authentication.
	if chain.OnRequest != nil {
		if err := chain.OnRequest(ctx, req); err != nil {
			if thrown, ok := handler.AsResponse(err); ok {
				return e.finish(ctx, req, route, thrown, report)
			}
			report(ctx, err)
			return plainStatus(http.StatusInternalServerError)
		}
	}

	// Authentication pins the principal to the scope, exactly once, even
	// when the request stays anonymous.
	var user *handler.User
	if chain.Authenticate != nil {
		user, err = chain.Authenticate(ctx, req)
		if err != nil {
			if thrown, ok := handler.AsResponse(err); ok {
				return e.finish(ctx, req, route, thrown, report)
			}
			report(ctx, err)
			return plainStatus(http.StatusInternalServerError)
		}
		if user != nil && user.ID == "" {
			logger.Error("authenticate returned a user without an id", "route", route.Path, "source", route.Source)
			forbidden := plainStatus(http.StatusForbidden)
			return e.finish(ctx, req, route, forbidden, report)
		}
	}
	_ = scope.PinUser(user)
	req.User = user

	fn := e.handlerFor(route, method)
	if fn == nil {
		logger.Warn("no handler bound for allowed method", "method", method, "route", route.Path)
		notAllowed := plainStatus(http.StatusMethodNotAllowed)
		return e.finish(ctx, req, route, notAllowed, report)
	}

	result, err := fn(ctx, req)
	if err != nil {
		if thrown, ok := handler.AsResponse(err); ok {
			return e.finish(ctx, req, route, thrown, report)
		}
		report(ctx, err)
		return plainStatus(http.StatusInternalServerError)
	}
	if result == nil {
		logger.Warn("handler returned no content", "route", route.Path, "source", route.Source)
	}
	return e.finish(ctx, req, route, result, report)
}

// finish coerces the outcome into a response, applies route-level
// post-processing, and runs onResponse. A short-circuit response arrives
// here as a *Response result.
func (e *Engine) finish(ctx context.Context, req *handler.Request, route *manifest.Route, result handler.Result, report func(context.Context, error)) *handler.Response {
	resp, err := handler.Materialize(result)
	if err != nil {
		report(ctx, err)
		return plainStatus(http.StatusInternalServerError)
	}

	postProcess(route, result, resp)

	if route.Chain.OnResponse != nil {
		if err := route.Chain.OnResponse(ctx, req, resp); err != nil {
			if replacement, ok := handler.AsResponse(err); ok {
				resp, _ = handler.Materialize(replacement)
			} else {
				report(ctx, err)
			}
		}
	}
	return resp
}

// handlerFor resolves the invocation target: queue-backed routes enqueue,
// everything else goes to the module's bound handler.
func (e *Engine) handlerFor(route *manifest.Route, method string) handler.Func {
	if route.Queue != nil {
		return enqueueFunc(route.Queue)
	}
	return route.HandlerFor(method)
}

// enqueueFunc adapts a queue's HTTP projection into a handler: the request
// body becomes the message payload and the :group parameter, when present,
// its FIFO message group.
func enqueueFunc(q *manifest.Queue) handler.Func {
	return func(ctx context.Context, req *handler.Request) (handler.Result, error) {
		id, err := ambient.QueueJob(ctx, ambient.Job{
			QueueName:   q.Name,
			Payload:     req.Body,
			ContentType: req.ContentType(),
			GroupID:     req.Params["group"],
			Params:      req.Params,
		})
		if err != nil {
			return nil, err
		}
		return handler.JSON(map[string]string{"messageId": id}), nil
	}
}

// postProcess adds the automatic headers to 200 responses: an ETag unless
// one is set or the policy disables it, and Cache-Control when the cache
// policy yields a positive max-age. Non-200 responses are left untouched.
func postProcess(route *manifest.Route, result handler.Result, resp *handler.Response) {
	if resp.StatusCode != http.StatusOK {
		return
	}
	if resp.Header.Get("ETag") == "" {
		if tag, ok := route.ETag.Tag(result); ok {
			if tag == "" {
				sum := md5.Sum(resp.Body)
				tag = hex.EncodeToString(sum[:])
			}
			resp.Header.Set("ETag", quoteETag(tag))
		}
	}
	if resp.Header.Get("Cache-Control") == "" {
		if secs := route.Cache.MaxAge(result); secs > 0 {
			resp.Header.Set("Cache-Control", "private, max-age="+strconv.Itoa(secs)+", must-revalidate")
		}
	}
}

// quoteETag wraps a bare tag in the quotes RFC 9110 requires, leaving
// already-formed strong or weak tags alone.
func quoteETag(tag string) string {
	if strings.HasPrefix(tag, `"`) || strings.HasPrefix(tag, "W/") {
		return tag
	}
	return `"` + tag + `"`
}

// preflight answers OPTIONS on a CORS-enabled route without touching user
// code.
func preflight(route *manifest.Route) *handler.Response {
	resp := handler.NewResponse(http.StatusNoContent)
	resp.Header.Set("Access-Control-Allow-Origin", "*")
	methods := "*"
	if !route.Methods.All() {
		methods = strings.Join(route.Methods.List(), ", ")
	}
	resp.Header.Set("Access-Control-Allow-Methods", methods)
	resp.Header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	return resp
}

func plainStatus(status int) *handler.Response {
	return handler.NewResponse(status).WithText(http.StatusText(status))
}

// callHook invokes a middleware hook, converting a panic into an error so
// a misbehaving hook cannot take the pipeline down.
func callHook(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
