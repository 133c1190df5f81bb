// Package monitor streams bus events to websocket clients.
//
// Every bus.Event becomes a Frame. Clients connect to /ws and receive JSON
// text messages, or CBOR binary messages with ?format=cbor. Byte strings are
// hex encoded in JSON:
//
//	{"type":"telegram","stamp":1700000000000,"crcOk":true,
//	 "telegram":{"src":16,"dest":8,"service":1792,"data":"0102","crc":207}}
package monitor
