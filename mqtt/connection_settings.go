// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqtt

import (
	"math/rand"
	"os"
	"strconv"

	"github.com/Orama4/devices-service/errors"
	"github.com/Orama4/devices-service/internal/wallclock"
)

// ConnectionSettings hold the broker connection parameters for the session
// client.
type ConnectionSettings struct {
	Hostname string
	Port     uint16
	ClientID string
	Username string
	Password []byte

	// KeepAlive is the MQTT keep-alive interval in seconds.
	KeepAlive uint16
}

// SettingsFromEnv parses connection settings from well-known environment
// variables. Missing variables leave the corresponding fields at their zero
// values so defaults can be applied on top.
func SettingsFromEnv() (ConnectionSettings, error) {
	settings := ConnectionSettings{
		Hostname: os.Getenv("FLEET_BROKER_HOSTNAME"),
		ClientID: os.Getenv("FLEET_BROKER_CLIENT_ID"),
		Username: os.Getenv("FLEET_BROKER_USERNAME"),
	}
	if pass := os.Getenv("FLEET_BROKER_PASSWORD"); pass != "" {
		settings.Password = []byte(pass)
	}
	if port := os.Getenv("FLEET_BROKER_TCP_PORT"); port != "" {
		parsed, err := strconv.ParseUint(port, 10, 16)
		if err != nil {
			return settings, &errors.Error{
				Message:       "could not parse broker TCP port",
				Kind:          errors.ConfigurationInvalid,
				NestedError:   err,
				PropertyName:  "FLEET_BROKER_TCP_PORT",
				PropertyValue: port,
			}
		}
		settings.Port = uint16(parsed)
	}
	return settings, nil
}

// ClientIDs must be between 1 and 23 UTF-8 encoded bytes in length and only
// contain alphanumeric characters:
// https://docs.oasis-open.org/mqtt/mqtt/v5.0/os/mqtt-v5.0-os.html#_Toc3901059
const maxClientIDLength = 23

var validClientIDCharacters = []byte(
	"0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ",
)

// randomClientID generates a random valid MQTT client ID for clients that do
// not configure one.
func randomClientID() string {
	seed := wallclock.Instance.Now().UnixNano()
	// #nosec G404
	r := rand.New(rand.NewSource(seed))

	id := make([]byte, maxClientIDLength)
	for i := range id {
		id[i] = validClientIDCharacters[r.Intn(len(validClientIDCharacters))]
	}
	return string(id)
}
