package discovery

import (
	"fmt"
	"strings"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeEndpointTXT creates TXT records for endpoint advertising.
func EncodeEndpointTXT(info *EndpointInfo) TXTRecordMap {
	txt := make(TXTRecordMap)
	txt[TXTKeyVersion] = ProtocolVersion
	txt[TXTKeyNodeID] = info.NodeID
	if len(info.Topics) > 0 {
		txt[TXTKeyTopics] = strings.Join(info.Topics, ",")
	}
	return txt
}

// DecodeEndpointTXT parses TXT records from endpoint advertising.
func DecodeEndpointTXT(txt TXTRecordMap) (*EndpointInfo, error) {
	info := &EndpointInfo{}

	nodeID, ok := txt[TXTKeyNodeID]
	if !ok || nodeID == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyNodeID)
	}
	info.NodeID = nodeID

	version, ok := txt[TXTKeyVersion]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyVersion)
	}
	if version != ProtocolVersion {
		return nil, fmt.Errorf("%w: unsupported version %q", ErrInvalidTXTRecord, version)
	}
	info.Version = version

	if topics := txt[TXTKeyTopics]; topics != "" {
		info.Topics = strings.Split(topics, ",")
	}

	return info, nil
}

// TXTRecordsToStrings converts a TXTRecordMap to "key=value" strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	strs := make([]string, 0, len(txt))
	for k, v := range txt {
		strs = append(strs, k+"="+v)
	}
	return strs
}

// StringsToTXTRecords parses "key=value" strings into a TXTRecordMap.
// Malformed entries are skipped.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		k, v, ok := strings.Cut(s, "=")
		if !ok || k == "" {
			continue
		}
		txt[k] = v
	}
	return txt
}
