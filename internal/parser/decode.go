package parser

import "encoding/json"

// varDecl is one variable declaration inside a trace record's return or
// argument list.
type varDecl struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Alias   string `json:"alias"`
	Kind    string `json:"kind"`
	BID     int64  `json:"bid"`
	Count   int64  `json:"count"`
	Size    int64  `json:"size"`
	SeqBase int64  `json:"seqbase"`
	HghBase int64  `json:"hghbase"`
	EOL     int64  `json:"eol"`
	Index   int64  `json:"index"`
}

// traceRecord is the wire shape of one executed-instruction record.
type traceRecord struct {
	Session  string    `json:"session"`
	Tag      int64     `json:"tag"`
	State    string    `json:"state"`
	PC       int64     `json:"pc"`
	Clk      int64     `json:"clk"`
	CTime    int64     `json:"ctime"`
	Thread   int64     `json:"thread"`
	Function string    `json:"function"`
	Usec     int64     `json:"usec"`
	RSS      int64     `json:"rss"`
	Size     int64     `json:"size"`
	Stmt     string    `json:"stmt"`
	Short    string    `json:"short"`
	Prereq   []int64   `json:"prereq"`
	Ret      []varDecl `json:"ret"`
	Arg      []varDecl `json:"arg"`
}

// heartbeatRecord is the wire shape of one system-sampling record.
type heartbeatRecord struct {
	Session string    `json:"session"`
	Clk     int64     `json:"clk"`
	CTime   int64     `json:"ctime"`
	RSS     int64     `json:"rss"`
	NVCSw   int64     `json:"nvcsw"`
	CPULoad []float64 `json:"cpuload"`
}

// decodedObject is the closed variant over the two recognized record kinds.
// Exactly one of trace and heartbeat is non-nil.
type decodedObject struct {
	trace     *traceRecord
	heartbeat *heartbeatRecord
}

// decode parses raw text into a classified record. Malformed text yields a
// DecodeError; a missing or unknown source discriminator yields an
// UnrecognizedKindError.
func decode(raw []byte) (decodedObject, error) {
	var envelope struct {
		Source string `json:"source"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return decodedObject{}, &DecodeError{Err: err}
	}

	switch envelope.Source {
	case "trace":
		var rec traceRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return decodedObject{}, &DecodeError{Err: err}
		}
		return decodedObject{trace: &rec}, nil

	case "heartbeat":
		var rec heartbeatRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return decodedObject{}, &DecodeError{Err: err}
		}
		return decodedObject{heartbeat: &rec}, nil

	default:
		return decodedObject{}, &UnrecognizedKindError{Source: envelope.Source}
	}
}
