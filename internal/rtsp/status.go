package rtsp

import "strconv"

// StatusCode is an RTSP response status (RFC 2326 section 7.1.1).
type StatusCode int

const (
	StatusContinue                   StatusCode = 100
	StatusOK                         StatusCode = 200
	StatusCreated                    StatusCode = 201
	StatusLowOnStorageSpace          StatusCode = 250
	StatusMultipleChoices            StatusCode = 300
	StatusMovedPermanently           StatusCode = 301
	StatusMovedTemporarily           StatusCode = 302
	StatusSeeOther                   StatusCode = 303
	StatusNotModified                StatusCode = 304
	StatusUseProxy                   StatusCode = 305
	StatusBadRequest                 StatusCode = 400
	StatusUnauthorized               StatusCode = 401
	StatusPaymentRequired            StatusCode = 402
	StatusForbidden                  StatusCode = 403
	StatusNotFound                   StatusCode = 404
	StatusMethodNotAllowed           StatusCode = 405
	StatusNotAcceptable              StatusCode = 406
	StatusProxyAuthRequired          StatusCode = 407
	StatusRequestTimeout             StatusCode = 408
	StatusGone                       StatusCode = 410
	StatusLengthRequired             StatusCode = 411
	StatusPreconditionFailed         StatusCode = 412
	StatusRequestEntityTooLarge      StatusCode = 413
	StatusRequestURITooLarge         StatusCode = 414
	StatusUnsupportedMediaType       StatusCode = 415
	StatusParameterNotUnderstood     StatusCode = 451
	StatusConferenceNotFound         StatusCode = 452
	StatusNotEnoughBandwidth         StatusCode = 453
	StatusSessionNotFound            StatusCode = 454
	StatusMethodNotValidInThisState  StatusCode = 455
	StatusHeaderFieldNotValid        StatusCode = 456
	StatusInvalidRange               StatusCode = 457
	StatusParameterIsReadOnly        StatusCode = 458
	StatusAggregateOperationNotAllow StatusCode = 459
	StatusOnlyAggregateOperation     StatusCode = 460
	StatusUnsupportedTransport       StatusCode = 461
	StatusDestinationUnreachable     StatusCode = 462
	StatusInternalServerError        StatusCode = 500
	StatusNotImplemented             StatusCode = 501
	StatusBadGateway                 StatusCode = 502
	StatusServiceUnavailable         StatusCode = 503
	StatusGatewayTimeout             StatusCode = 504
	StatusVersionNotSupported        StatusCode = 505
	StatusOptionNotSupported         StatusCode = 551
)

var statusText = map[StatusCode]string{
	StatusContinue:                   "Continue",
	StatusOK:                         "OK",
	StatusCreated:                    "Created",
	StatusLowOnStorageSpace:          "Low on Storage Space",
	StatusMultipleChoices:            "Multiple Choices",
	StatusMovedPermanently:           "Moved Permanently",
	StatusMovedTemporarily:           "Moved Temporarily",
	StatusSeeOther:                   "See Other",
	StatusNotModified:                "Not Modified",
	StatusUseProxy:                   "Use Proxy",
	StatusBadRequest:                 "Bad Request",
	StatusUnauthorized:               "Unauthorized",
	StatusPaymentRequired:            "Payment Required",
	StatusForbidden:                  "Forbidden",
	StatusNotFound:                   "Not Found",
	StatusMethodNotAllowed:           "Method Not Allowed",
	StatusNotAcceptable:              "Not Acceptable",
	StatusProxyAuthRequired:          "Proxy Authentication Required",
	StatusRequestTimeout:             "Request Time-out",
	StatusGone:                       "Gone",
	StatusLengthRequired:             "Length Required",
	StatusPreconditionFailed:         "Precondition Failed",
	StatusRequestEntityTooLarge:      "Request Entity Too Large",
	StatusRequestURITooLarge:         "Request-URI Too Large",
	StatusUnsupportedMediaType:       "Unsupported Media Type",
	StatusParameterNotUnderstood:     "Parameter Not Understood",
	StatusConferenceNotFound:         "Conference Not Found",
	StatusNotEnoughBandwidth:         "Not Enough Bandwidth",
	StatusSessionNotFound:            "Session Not Found",
	StatusMethodNotValidInThisState:  "Method Not Valid in This State",
	StatusHeaderFieldNotValid:        "Header Field Not Valid for Resource",
	StatusInvalidRange:               "Invalid Range",
	StatusParameterIsReadOnly:        "Parameter Is Read-Only",
	StatusAggregateOperationNotAllow: "Aggregate operation not allowed",
	StatusOnlyAggregateOperation:     "Only aggregate operation allowed",
	StatusUnsupportedTransport:       "Unsupported transport",
	StatusDestinationUnreachable:     "Destination unreachable",
	StatusInternalServerError:        "Internal Server Error",
	StatusNotImplemented:             "Not Implemented",
	StatusBadGateway:                 "Bad Gateway",
	StatusServiceUnavailable:         "Service Unavailable",
	StatusGatewayTimeout:             "Gateway Time-out",
	StatusVersionNotSupported:        "RTSP Version not supported",
	StatusOptionNotSupported:         "Option not supported",
}

func (c StatusCode) String() string {
	if s, ok := statusText[c]; ok {
		return s
	}
	return "Status " + strconv.Itoa(int(c))
}

// OK reports whether c is 200.
func (c StatusCode) OK() bool { return c == StatusOK }

// explanations describe how a SAT>IP server uses each error status.
var explanations = map[StatusCode]string{
	StatusBadRequest:                "The request could not be understood by the server due to a malformed syntax. Returned when missing a character, inconsistent request (duplicate attributes), etc.",
	StatusForbidden:                 "The server understood the request, but is refusing to fulfil it. Returned when passing an attribute value not understood by the server in a query, or an out-of-range value.",
	StatusNotFound:                  "The server has not found anything matching the Request-URI. Returned when requesting a stream with a streamID that does not exist.",
	StatusMethodNotAllowed:          "The method specified in the request is not allowed for the resource identified by the Request-URI. Returned when applying a SETUP, PLAY or TEARDOWN method on an RTSP URI identifying the server.",
	StatusNotAcceptable:             "The resource identified by the request is only capable of generating response message bodies which have content characteristics not acceptable according to the accept headers sent in the request. Issuing a DESCRIBE request with an accept header different from application/sdp.",
	StatusRequestTimeout:            "The client did not produce a request within the time that the server was prepared to wait. The client may repeat the request without modifications at any later time. E.g. issuing a PLAY request after the communication link had been idle for a period of time. The time interval has exceeded the value specified by the timeout parameter in the Session: header field of a SETUP response.",
	StatusRequestURITooLarge:        "The server is refusing to service the request because the Request-URI is longer than the server is willing to interpret. The RTSP protocol does not place any limit on the length of a URI. Servers should be able to handle URIs of unbounded length.",
	StatusNotEnoughBandwidth:        "The request was refused because there is insufficient bandwidth on the in-home LAN. Returned when clients are requesting more streams than the network can carry.",
	StatusSessionNotFound:           "The RTSP session identifier value in the Session: header field of the request is missing, invalid, or has timed out. Returned when issuing the wrong session identifier value in a request.",
	StatusMethodNotValidInThisState: "The client or server cannot process this request in its current state. Returned e.g. when trying to change transport parameters while the server is in the play state (e.g. change of port values, etc.).",
	StatusUnsupportedTransport:      "The Transport: header field of the request did not contain a supported transport specification. Returned e.g. when issuing a profile that is different from RTP/AVP.",
	StatusInternalServerError:       "The server encountered an error condition preventing it to fulfil the request. Returned when the server is not functioning correctly due to a hardware failure or a software bug or anything else that can go wrong.",
	StatusServiceUnavailable:        "The server is currently unable to handle the request due to a temporary overloading or maintenance of the server. Returned when reaching the maximum number of hardware and software resources, the maximum number of sessions.",
	StatusVersionNotSupported:       "The server does not support the RTSP protocol version that was used in the request message.",
	StatusOptionNotSupported:        "A feature-tag given in the Require: header field of the request was not supported. Issuing a request with a Require: header field.",
}

// Explain returns the server-side meaning of an error status, or an empty
// string for codes without one.
func (c StatusCode) Explain() string {
	return explanations[c]
}
