// Package proto defines the line-delimited JSON envelope exchanged between
// nodes and clients: {src, dest, body}, where body is a payload tagged by a
// snake_case "type" field and flattened together with the optional msg_id and
// in_reply_to correlation fields.
package proto
