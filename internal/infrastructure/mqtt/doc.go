// Package mqtt provides MQTT client connectivity for Playout Core.
//
// This package manages:
//   - Connection to the studio broker with auto-reconnect
//   - Retained playlist state for tally and GPI panels
//   - Command subscriptions from hardware panels
//   - Last Will and Testament (LWT) for offline detection
//
// # Topic layout
//
//	playout/system/status
//	playout/studio/{studio}/playlist/{playlist}/state   (retained)
//	playout/studio/{studio}/event/{type}
//	playout/studio/{studio}/command/{command}           (inbound)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.PublishRetained(mqtt.Topics{}.PlaylistState("studio-a", "show-1"), payload)
package mqtt
