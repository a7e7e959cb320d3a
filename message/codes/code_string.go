package codes

import "strconv"

var codeToString = map[Code]string{
	Empty:                   "Empty",
	GET:                     "GET",
	POST:                    "POST",
	PUT:                     "PUT",
	DELETE:                  "DELETE",
	FETCH:                   "FETCH",
	PATCH:                   "PATCH",
	IPATCH:                  "iPATCH",
	Created:                 "Created",
	Deleted:                 "Deleted",
	Valid:                   "Valid",
	Changed:                 "Changed",
	Content:                 "Content",
	Continue:                "Continue",
	BadRequest:              "BadRequest",
	Unauthorized:            "Unauthorized",
	BadOption:               "BadOption",
	Forbidden:               "Forbidden",
	NotFound:                "NotFound",
	MethodNotAllowed:        "MethodNotAllowed",
	NotAcceptable:           "NotAcceptable",
	RequestEntityIncomplete: "RequestEntityIncomplete",
	PreconditionFailed:      "PreconditionFailed",
	RequestEntityTooLarge:   "RequestEntityTooLarge",
	UnsupportedMediaType:    "UnsupportedMediaType",
	InternalServerError:     "InternalServerError",
	NotImplemented:          "NotImplemented",
	BadGateway:              "BadGateway",
	ServiceUnavailable:      "ServiceUnavailable",
	GatewayTimeout:          "GatewayTimeout",
	ProxyingNotSupported:    "ProxyingNotSupported",
}

func (c Code) String() string {
	if s, ok := codeToString[c]; ok {
		return s
	}
	return "Code(" + strconv.FormatInt(int64(c), 10) + ")"
}
