package envelope

import "strings"

// The two derivation heuristics below look similar but receive different
// inputs: one gets a root-relative upload path, the other a full cloud
// resource path. The segment counting differs, so they stay separate.

// DeviceIDFromFileName derives a device id from an uploaded file's name.
// Folder-style organisation wins, then hyphen-delimited naming, then
// extension stripping; each rule applies only when the previous found nothing.
//
//	"/mydevice/fileName123.json"   -> "mydevice"
//	"mydevice/Heartbeats.json"     -> "mydevice"
//	"/mydevice/Heartbeats-1-2.json" -> "mydevice"
//	"mydevice-1-2-3.json"          -> "mydevice"
//	"mydevice.json"                -> "mydevice"
func DeviceIDFromFileName(fileName string) string {
	id := fileName
	if id == "" {
		return id
	}
	id = strings.TrimPrefix(id, "/")
	if len(id) > 1 {
		if i := strings.Index(id[1:], "/"); i >= 0 {
			return id[:i+1]
		}
	}
	if i := strings.Index(id, "-"); i > 0 {
		return id[:i]
	}
	if i := strings.Index(id, "."); i > 0 {
		return id[:i]
	}
	return id
}

// DeviceIDFromSubject derives a device id from a storage notification's
// subject path. The file name is dropped first, then everything up to the
// remaining last slash, leaving the path segment immediately before the file
// (the device folder). With fewer than two slashes only the extension is
// stripped.
//
//	"/blobServices/default/containers/iothubuploads/blobs/mydevice/Heartbeats.json" -> "mydevice"
//	"mydevice/Heartbeats.json" -> "mydevice"
//	"mydevice.json"            -> "mydevice"
func DeviceIDFromSubject(subject string) string {
	id := subject
	if id == "" {
		return id
	}
	if last := strings.LastIndex(id, "/"); last > 0 {
		id = id[:last]
		if prev := strings.LastIndex(id, "/"); prev > 0 {
			return id[prev+1:]
		}
		return id
	}
	if i := strings.Index(id, "."); i > 0 {
		return id[:i]
	}
	return id
}
