// libcmfbridge exposes a process-global CMF session to C and C++ programs.
// Hosts include include/log_metric.h, which matches the original prototypes.
//
//	go build -buildmode=c-shared -o libcmfbridge.so ./cmd/libcmfbridge
//
// Configuration beyond the cmf_init arguments comes from the environment and
// .env, as for cmf-log. Calls never fail and never crash the host; problems
// are written to the diagnostic log and is_cmf_initialized reports readiness.
package main

/*
#include <stdlib.h>
*/
import "C"

import "unsafe"

var state = newBridgeState()

//export cmf_init
func cmf_init(mlmdPath, pipeline, contextName, execution *C.char) {
	state.init(goString(mlmdPath), goString(pipeline), goString(contextName), goString(execution))
}

//export is_cmf_initialized
func is_cmf_initialized() C.int {
	if state.ready() {
		return 1
	}
	return 0
}

//export log_metric
func log_metric(key *C.char, keys, values **C.char, count C.int) {
	state.logMetric(goString(key), goStrings(keys, count), goStrings(values, count))
}

//export log_metric_json
func log_metric_json(key, blob *C.char) {
	state.logMetricJSON(goString(key), goString(blob))
}

//export commit_metrics
func commit_metrics(name *C.char) {
	state.commit(goString(name))
}

//export cmf_finalize
func cmf_finalize() {
	state.finalize()
}

// goString maps NULL to "" so the session's validation reports it.
func goString(s *C.char) string {
	if s == nil {
		return ""
	}
	return C.GoString(s)
}

func goStrings(arr **C.char, count C.int) []string {
	if arr == nil || count <= 0 {
		return nil
	}
	ptrs := unsafe.Slice(arr, int(count))
	out := make([]string, len(ptrs))
	for i, p := range ptrs {
		out[i] = goString(p)
	}
	return out
}

func main() {}
