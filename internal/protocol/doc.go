// Package protocol implements the SweIoT device text protocol.
//
// Every exchange with a device, whether over the BLE UART service or queued
// through the Yggio relay, is a short ASCII line. Requests are built by the
// helpers in commands.go; inbound frames are classified by Classify.
//
// # Wire format
//
//	request            <name> | <name>:<payload> | <name>?
//	success answer     =...
//	failure answer     *...
//	data request       =<sys|digits>?<payload>
//	data set           =<sys|digits>:<payload>
//	command OK         =...:OK...        (also the literal =factory?OK)
//	version answer     =version?<digits> <rest>
//	sensor version     =acc_ver?<digits> <rest>
//	measurement        Measured: dist: 1.25, ampl: 42, ...
//
// All functions in this package are pure and total: they never panic and a
// missing match yields false, "" or KindUnknown.
package protocol
