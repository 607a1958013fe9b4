package carte

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"io"
	"strings"
)

// webResult is the <webresult> answer of executeJob/executeTrans.
type webResult struct {
	XMLName xml.Name `xml:"webresult"`
	Result  string   `xml:"result"`
	Message string   `xml:"message"`
	ID      string   `xml:"id"`
}

// executionStatus covers both <jobstatus> and <transstatus> documents; only
// the fields read here are mapped.
type executionStatus struct {
	ID            string `xml:"id"`
	StatusDesc    string `xml:"status_desc"`
	ErrorDesc     string `xml:"error_desc"`
	LoggingString string `xml:"logging_string"`
}

// serverStatus is the global /kettle/status/?xml=Y listing.
type serverStatus struct {
	XMLName   xml.Name       `xml:"serverstatus"`
	JobList   []listedStatus `xml:"jobstatuslist>jobstatus"`
	TransList []listedStatus `xml:"transstatuslist>transstatus"`
}

type listedStatus struct {
	JobName    string `xml:"jobname"`
	TransName  string `xml:"transname"`
	ID         string `xml:"id"`
	StatusDesc string `xml:"status_desc"`
}

var errNoStatus = errors.New("carte status response has no status_desc")

func decodeWebResult(body []byte) (*webResult, error) {
	var r webResult
	if err := xml.Unmarshal(body, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func decodeExecutionStatus(body []byte) (*executionStatus, error) {
	var s executionStatus
	if err := xml.Unmarshal(body, &s); err != nil {
		return nil, err
	}
	if s.StatusDesc == "" {
		return nil, errNoStatus
	}
	return &s, nil
}

func decodeServerStatus(body []byte) (*serverStatus, error) {
	var s serverStatus
	if err := xml.Unmarshal(body, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// decodeLoggingString unpacks Carte's base64+gzip log payload. Plain text is
// returned as is.
func decodeLoggingString(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return s
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return s
	}
	defer zr.Close()
	out, err := io.ReadAll(io.LimitReader(zr, maxBodyBytes))
	if err != nil {
		return s
	}
	return string(out)
}
