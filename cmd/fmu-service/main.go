package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"fmu-service/internal/comms"
	"fmu-service/internal/core"
	"fmu-service/internal/hardware"
	"fmu-service/internal/logger"
	"fmu-service/internal/messaging"
	"fmu-service/internal/mission"
	"fmu-service/internal/sim"
	"fmu-service/internal/types"
)

func main() {
	// Service log level
	var serviceLogLevel int
	flag.IntVar(&serviceLogLevel, "log", 3, "Service log level (0=NONE, 1=ERROR, 2=WARN, 3=INFO, 4=DEBUG)")

	var socPort string
	var socBaud int
	flag.StringVar(&socPort, "soc-port", "/dev/ttymxc1", "SOC serial device")
	flag.IntVar(&socBaud, "soc-baud", 1500000, "SOC serial baud rate")

	var redisHost string
	var redisPort int
	flag.StringVar(&redisHost, "redis-host", "127.0.0.1", "Redis host")
	flag.IntVar(&redisPort, "redis-port", 6379, "Redis port")

	var imuChip string
	var imuLine int
	flag.StringVar(&imuChip, "imu-int-chip", "gpiochip2", "GPIO chip for the IMU data ready line")
	flag.IntVar(&imuLine, "imu-int-line", -1, "GPIO line offset for the IMU data ready interrupt (-1 disables)")

	var flightControlDiv int
	var effectorOutputDiv int
	flag.IntVar(&flightControlDiv, "flight-control-div", 1, "Run flight control every n-th sensor frame (0 disables)")
	flag.IntVar(&effectorOutputDiv, "effector-output-div", 1, "Command effectors every n-th sensor frame (0 disables)")

	flag.Parse()

	// Create standard logger with appropriate format
	var stdLogger *log.Logger
	if os.Getenv("INVOCATION_ID") != "" {
		// Running under systemd, use minimal format
		stdLogger = log.New(os.Stdout, "", 0)
	} else {
		// Running interactively, use timestamps
		stdLogger = log.New(os.Stdout, "", log.LstdFlags|log.Lmicroseconds|log.Lmsgprefix)
	}

	// Create leveled logger
	l := logger.NewLogger(stdLogger, logger.LogLevel(serviceLogLevel))

	l.Infof("Starting FMU service...")

	m, err := mission.New(l, flightControlDiv, effectorOutputDiv)
	if err != nil {
		l.Fatalf("Failed to build mission: %v", err)
	}

	link, err := comms.OpenSocLink(comms.RealSerialPortFactory{}, socPort, socBaud, l)
	if err != nil {
		l.Fatalf("Failed to open SOC link: %v", err)
	}

	redisClient := messaging.NewRedisClient(redisHost, redisPort, l, messaging.Callbacks{
		ModeCallback: func(mode types.Mode) error {
			m.SetRequestedMode(mode)
			return nil
		},
	})

	var irq *hardware.ImuInterrupt
	if imuLine >= 0 {
		irq, err = hardware.NewImuInterrupt(imuChip, imuLine, m.SetImuDataReady, l)
		if err != nil {
			l.Fatalf("Failed to set up IMU interrupt: %v", err)
		}
	} else {
		l.Warnf("IMU interrupt disabled, sync data collection will not run")
	}

	system := core.NewFmuSystem(m, link, redisClient,
		sim.NewSensors(l), sim.NewControl(l, 1), sim.NewEffectors(l, 8), sim.NewConfig(l), l)
	if err := system.Start(context.Background()); err != nil {
		l.Fatalf("Failed to start system: %v", err)
	}

	l.Infof("System started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	l.Infof("Received signal %v, shutting down...", sig)
	system.Shutdown()
	if irq != nil {
		irq.Close()
	}
	l.Infof("Shutdown complete")
}
