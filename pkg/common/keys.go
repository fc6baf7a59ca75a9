package common

import "fmt"

var (
	// Watermark keys, compatible with the values written by the previous ETL
	watermarkSuffix string = "_index_last_sync_state"
	watermarkKey    string = "%s_index_last_sync_state" // stream
	resyncKey       string = "%s_index_resync_pending"  // stream

	// Redis keys
	stateHash string = "indexsync:state"
	passLock  string = "indexsync:lock:%s" // index name
)

var Keys = &stateKeys{}

type stateKeys struct{}

// Watermark keys
func (sk *stateKeys) Watermark(stream string) string {
	return fmt.Sprintf(watermarkKey, stream)
}

func (sk *stateKeys) WatermarkSuffix() string {
	return watermarkSuffix
}

func (sk *stateKeys) ResyncPending(stream string) string {
	return fmt.Sprintf(resyncKey, stream)
}

// Redis keys
func (sk *stateKeys) StateHash() string {
	return stateHash
}

func (sk *stateKeys) PassLock(index string) string {
	return fmt.Sprintf(passLock, index)
}
