// Package workload runs named compute workloads against kernelcall.
//
// A Workload builds one kernelcall.Call per run, dispatches a kernel from
// package kernels and checks the results on the host, reporting progress
// line by line to a report.Sink. A Registry holds workloads in the order
// they were added and a Runner executes one at a time:
//
//	reg := workload.Default()
//	r := workload.NewRunner(reg, report.NewWriter(os.Stdout, report.ColorAuto))
//	if err := r.Run(ctx, "Matmul1024"); err != nil {
//		// already logged as "run failed: ..."
//	}
package workload
