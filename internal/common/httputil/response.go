package httputil

import (
	"encoding/json"

	"github.com/valyala/fasthttp"
)

// JSONOK sends {"ok": true} merged with the fields of data (data may be nil,
// a struct, or a map[string]interface{}; it must marshal to a JSON object).
func JSONOK(ctx *fasthttp.RequestCtx, data interface{}, statusCode int) {
	body, err := marshalEnvelope(true, "", data)
	if err != nil {
		JSONErr(ctx, "internal: failed to encode response", fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetStatusCode(statusCode)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

// JSONErr sends {"ok": false, "error": message}.
func JSONErr(ctx *fasthttp.RequestCtx, message string, statusCode int) {
	body, _ := marshalEnvelope(false, message, nil)
	ctx.SetStatusCode(statusCode)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

// marshalEnvelope flattens data's fields alongside ok/error rather than
// nesting them under a "data" key, matching the {ok, error, ...data} wire
// contract.
func marshalEnvelope(ok bool, errMsg string, data interface{}) ([]byte, error) {
	merged := map[string]interface{}{"ok": ok}
	if errMsg != "" {
		merged["error"] = errMsg
	}

	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		var fields map[string]interface{}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, err
		}
		for k, v := range fields {
			merged[k] = v
		}
	}

	return json.Marshal(merged)
}
