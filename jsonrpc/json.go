package jsonrpc

import "github.com/bytedance/sonic"

// Marshal and Unmarshal are the JSON functions used for every wire value in
// this package. They default to sonic's std-compatible configuration and may
// be replaced at startup by any function with the encoding/json signature.
var (
	Marshal   = sonic.ConfigStd.Marshal
	Unmarshal = sonic.ConfigStd.Unmarshal
)
