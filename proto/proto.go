// Package proto holds the static HTTP/1.1 wire-protocol tables spec.md §6
// names: the fixed reason-phrase table and the set of methods the server
// must accept (including the WebDAV/CalDAV verbs). These are protocol
// constants, not behavior, so they are plain data grounded directly on
// spec.md rather than on any one collaborator package.
package proto

import "strconv"

// TimeFormat is the RFC 7231 preferred HTTP-date format, used for the
// Date response header.
const TimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// Methods the server accepts, per spec.md §6.
const (
	MethodGet          = "GET"
	MethodHead         = "HEAD"
	MethodPost         = "POST"
	MethodPut          = "PUT"
	MethodPatch        = "PATCH"
	MethodDelete       = "DELETE"
	MethodOptions      = "OPTIONS"
	MethodConnect      = "CONNECT"
	MethodTrace        = "TRACE"
	MethodACL          = "ACL"
	MethodCopy         = "COPY"
	MethodLock         = "LOCK"
	MethodMove         = "MOVE"
	MethodMkcol        = "MKCOL"
	MethodMerge        = "MERGE"
	MethodPurge        = "PURGE"
	MethodNotify       = "NOTIFY"
	MethodSearch       = "SEARCH"
	MethodUnlock       = "UNLOCK"
	MethodRebind       = "REBIND"
	MethodUnbind       = "UNBIND"
	MethodReport       = "REPORT"
	MethodUnlink       = "UNLINK"
	MethodPropfind     = "PROPFIND"
	MethodCheckout     = "CHECKOUT"
	MethodProppatch    = "PROPPATCH"
	MethodSubscribe    = "SUBSCRIBE"
	MethodMkcalendar   = "MKCALENDAR"
	MethodMkactivity   = "MKACTIVITY"
	MethodUnsubscribe  = "UNSUBSCRIBE"
	MethodSource       = "SOURCE"
	MethodBind         = "BIND"
	MethodLink         = "LINK"
)

var knownMethods = map[string]bool{
	MethodGet: true, MethodHead: true, MethodPost: true, MethodPut: true,
	MethodPatch: true, MethodDelete: true, MethodOptions: true, MethodConnect: true,
	MethodTrace: true, MethodACL: true, MethodCopy: true, MethodLock: true,
	MethodMove: true, MethodMkcol: true, MethodMerge: true, MethodPurge: true,
	MethodNotify: true, MethodSearch: true, MethodUnlock: true, MethodRebind: true,
	MethodUnbind: true, MethodReport: true, MethodUnlink: true, MethodPropfind: true,
	MethodCheckout: true, MethodProppatch: true, MethodSubscribe: true,
	MethodMkcalendar: true, MethodMkactivity: true, MethodUnsubscribe: true,
	MethodSource: true, MethodBind: true, MethodLink: true,
}

// IsKnownMethod reports whether method (already uppercased) is one of the
// verbs spec.md §6 requires support for. Unknown methods are not rejected
// by this package; it is informational only (the handler does not route).
func IsKnownMethod(method string) bool {
	return knownMethods[method]
}

// Reason phrases, spec.md §6 subset of RFC 7231 + WebDAV status codes.
var reasons = map[int]string{
	100: "Continue",
	101: "Switching Protocols",
	102: "Processing",
	200: "OK",
	201: "Created",
	202: "Accepted",
	203: "Non-Authoritative Information",
	204: "No Content",
	205: "Reset Content",
	206: "Partial Content",
	207: "Multi-Status",
	300: "Multiple Choices",
	301: "Moved Permanently",
	302: "Moved Temporarily",
	303: "See Other",
	304: "Not Modified",
	305: "Use Proxy",
	307: "Temporary Redirect",
	400: "Bad Request",
	401: "Unauthorized",
	402: "Payment Required",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	406: "Not Acceptable",
	407: "Proxy Authentication Required",
	408: "Request Timeout",
	409: "Conflict",
	410: "Gone",
	411: "Length Required",
	412: "Precondition Failed",
	413: "Request Entity Too Large",
	414: "Request-URI Too Long",
	415: "Unsupported Media Type",
	416: "Requested Range Not Satisfiable",
	417: "Expectation Failed",
	419: "Insufficient Space on Resource",
	420: "Method Failure",
	421: "Misdirected Request",
	422: "Unprocessable Entity",
	424: "Failed Dependency",
	428: "Precondition Required",
	429: "Too Many Requests",
	431: "Request Header Fields Too Large",
	500: "Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
	505: "HTTP Version Not Supported",
	507: "Insufficient Storage",
	511: "Network Authentication Required",
}

// ReasonPhrase returns the fixed reason phrase for code, or a generic
// "status code N" fallback for anything outside the table, matching the
// teacher's Response.Write fallback behavior.
func ReasonPhrase(code int) string {
	if r, ok := reasons[code]; ok {
		return r
	}
	return "status code " + strconv.Itoa(code)
}
